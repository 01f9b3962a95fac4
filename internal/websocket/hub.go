package websocket

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sitechat/internal/imtypes"
	"sitechat/pkg/logger"
	"sitechat/pkg/metrics"
)

// ErrHubClosed Hub 已停止运行。
var ErrHubClosed = errors.New("websocket hub 已关闭")

type roomAction int

const (
	actionJoin roomAction = iota
	actionLeave
	actionReply
)

type roomCommand struct {
	client *Client
	action roomAction
	room   string
	// actionReply 时直接投递给该连接的帧
	frame []byte
	done  chan error
}

// outbound 是 publish 通道上的一项: 投递帧, 或者 evict 非零时把该用户移出房间。
// 两者走同一个通道, 撤销之后发布的事件一定在撤销之后处理。
type outbound struct {
	room  string
	frame []byte
	evict uint
}

type lookupRequest struct {
	userID uint
	reply  chan []*Client
}

// Stats 是 Hub 的快照。
type Stats struct {
	Users       int
	Connections int
	Rooms       int
}

// Hub 持有连接注册表与房间表。两张表只由 Run 所在的 goroutine 读写,
// 其它 goroutine 通过 channel 提交请求。
type Hub struct {
	log *logger.Logger

	registry *registry
	rooms    *roomTable

	register   chan registration
	unregister chan registration
	commands   chan roomCommand
	publish    chan outbound
	lookups    chan lookupRequest
	stats      chan chan Stats

	done chan struct{}
}

type registration struct {
	client *Client
	done   chan struct{}
}

// NewHub creates a new Hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Global()
	}
	return &Hub{
		log:        log.Named("hub"),
		registry:   newRegistry(),
		rooms:      newRoomTable(),
		register:   make(chan registration),
		unregister: make(chan registration),
		commands:   make(chan roomCommand),
		publish:    make(chan outbound, 1024),
		lookups:    make(chan lookupRequest),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
	}
}

// Register 登记连接并让它加入自己的 user 房间。
func (h *Hub) Register(c *Client) error {
	req := registration{client: c, done: make(chan struct{})}
	select {
	case h.register <- req:
	case <-h.done:
		return ErrHubClosed
	}
	<-req.done
	return nil
}

// Unregister 注销连接, 离开它所在的全部房间并关闭发送通道。重复调用无害。
func (h *Hub) Unregister(c *Client) {
	req := registration{client: c, done: make(chan struct{})}
	select {
	case h.unregister <- req:
		<-req.done
	case <-h.done:
	}
}

// Join 让连接进入房间; 同类的旧房间会被先离开。调用方负责权限检查。
func (h *Hub) Join(c *Client, room string) error {
	return h.command(roomCommand{client: c, action: actionJoin, room: room})
}

// Leave 让连接离开房间。
func (h *Hub) Leave(c *Client, room string) error {
	return h.command(roomCommand{client: c, action: actionLeave, room: room})
}

// Reply 向单个连接投递一帧 (ack, pong, error)。
func (h *Hub) Reply(c *Client, frame []byte) error {
	return h.command(roomCommand{client: c, action: actionReply, frame: frame})
}

func (h *Hub) command(cmd roomCommand) error {
	cmd.done = make(chan error, 1)
	select {
	case h.commands <- cmd:
	case <-h.done:
		return ErrHubClosed
	}
	return <-cmd.done
}

// Publish 把一帧投递给房间内的所有连接。没有重试, 不在线的连接收不到。
func (h *Hub) Publish(ctx context.Context, room string, frame []byte) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.publish <- outbound{room: room, frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Evict 把用户的所有连接移出房间, 被移出的连接会收到 roomLeft。
// 在房间成员资格被撤销 (移出群聊, 移出项目) 后调用。
func (h *Hub) Evict(ctx context.Context, room string, userID uint) error {
	if _, _, err := imtypes.ParseRoom(room); err != nil {
		return err
	}
	select {
	case h.publish <- outbound{room: room, evict: userID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Lookup 返回用户当前的所有连接。
func (h *Hub) Lookup(userID uint) []*Client {
	req := lookupRequest{userID: userID, reply: make(chan []*Client, 1)}
	select {
	case h.lookups <- req:
	case <-h.done:
		return nil
	}
	return <-req.reply
}

// Stats 返回当前在线统计。
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}
	}
	return <-reply
}

// Run starts the hub and listens for requests on its channels until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket Hub 开始运行")
	defer func() {
		for _, set := range h.registry.byUser {
			for c := range set {
				h.drop(c, "")
			}
		}
		close(h.done)
		h.log.Info("WebSocket Hub 已停止")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.register:
			c := req.client
			first := h.registry.add(c)
			h.rooms.join(c, imtypes.UserRoom(c.UserID))
			metrics.IncrementConnections()
			metrics.RoomsActive.Set(float64(h.rooms.size()))
			h.log.Debug("客户端已注册", zap.Uint("userID", c.UserID), zap.Bool("firstConnection", first))
			close(req.done)

		case req := <-h.unregister:
			if h.drop(req.client, "") {
				h.log.Debug("客户端已注销", zap.Uint("userID", req.client.UserID))
			}
			close(req.done)

		case cmd := <-h.commands:
			cmd.done <- h.handleCommand(cmd)

		case msg := <-h.publish:
			h.deliver(msg)

		case req := <-h.lookups:
			req.reply <- h.registry.lookup(req.userID)

		case reply := <-h.stats:
			reply <- Stats{Users: h.registry.users(), Connections: h.registry.count, Rooms: h.rooms.size()}
		}
	}
}

func (h *Hub) handleCommand(cmd roomCommand) error {
	c := cmd.client
	if c.closed {
		return ErrClientClosed
	}
	switch cmd.action {
	case actionReply:
		h.enqueue(c, cmd.frame)
		return nil
	case actionJoin:
		kind, _, err := imtypes.ParseRoom(cmd.room)
		if err != nil {
			return err
		}
		if kind == imtypes.RoomUser {
			// user 房间在注册时已加入
			return nil
		}
		if prev := c.focus.enter(kind, cmd.room); prev != "" {
			h.rooms.leave(c, prev)
		}
		h.rooms.join(c, cmd.room)
	case actionLeave:
		kind, _, err := imtypes.ParseRoom(cmd.room)
		if err != nil {
			return err
		}
		if c.focus.exit(kind, cmd.room) {
			h.rooms.leave(c, cmd.room)
		}
	}
	metrics.RoomsActive.Set(float64(h.rooms.size()))
	return nil
}

func (h *Hub) deliver(msg outbound) {
	if msg.evict != 0 {
		h.evict(msg.room, msg.evict)
		return
	}
	for _, c := range h.rooms.clients(msg.room) {
		h.enqueue(c, msg.frame)
	}
}

func (h *Hub) evict(room string, userID uint) {
	kind, _, err := imtypes.ParseRoom(room)
	if err != nil {
		return
	}
	var left []byte
	for _, c := range h.registry.lookup(userID) {
		if !c.focus.exit(kind, room) {
			continue
		}
		h.rooms.leave(c, room)
		if left == nil {
			if left, err = imtypes.NewEnvelope(room, imtypes.EventRoomLeft, nil); err != nil {
				h.log.Error("编码 roomLeft 失败", zap.Error(err))
				continue
			}
		}
		h.enqueue(c, left)
		h.log.Info("连接已被移出房间", zap.Uint("userID", userID), zap.String("room", room))
	}
	metrics.RoomsActive.Set(float64(h.rooms.size()))
}

// enqueue 非阻塞地写入发送缓冲; 缓冲已满的慢连接被断开, 客户端重连后自行补拉。
func (h *Hub) enqueue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
		metrics.EventsDelivered.Inc()
	default:
		metrics.EventsDropped.WithLabelValues("slow_consumer").Inc()
		h.log.Warn("发送缓冲已满, 断开慢连接", zap.Uint("userID", c.UserID))
		h.drop(c, "slow_consumer")
	}
}

// drop 从注册表和所有房间中移除连接并关闭发送通道。
func (h *Hub) drop(c *Client, reason string) bool {
	if c.closed {
		return false
	}
	c.closed = true
	h.registry.remove(c)
	h.rooms.leave(c, imtypes.UserRoom(c.UserID))
	for _, room := range c.focus.rooms() {
		h.rooms.leave(c, room)
	}
	close(c.send)
	metrics.DecrementConnections()
	metrics.RoomsActive.Set(float64(h.rooms.size()))
	if reason != "" {
		h.log.Info("连接已被移除", zap.Uint("userID", c.UserID), zap.String("reason", reason))
	}
	return true
}

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sitechat/internal/config"
	"sitechat/internal/imtypes"
	"sitechat/pkg/logger"
	"sitechat/pkg/metrics"
)

// ErrClientClosed 连接已被 Hub 移除。
var ErrClientClosed = errors.New("websocket 连接已关闭")

// Authorizer 决定用户能否进入某个房间。
type Authorizer interface {
	CanJoin(ctx context.Context, userID uint, room string) (bool, error)
}

var newlineBytes = []byte("\n")

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. 只由 Hub 写入和关闭。
	send chan []byte

	// Authenticated User ID for this client.
	UserID uint

	authorizer Authorizer
	limiter    *rate.Limiter
	log        *logger.Logger

	// 以下字段只由 Hub.Run 访问
	focus  focus
	closed bool
}

// NewClient 创建一个连接。conn 为 nil 时只能通过 send 通道观察输出 (测试用)。
func NewClient(hub *Hub, conn *websocket.Conn, userID uint, authorizer Authorizer, wsCfg config.WebSocketConfig) *Client {
	bufSize := wsCfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	var limiter *rate.Limiter
	if wsCfg.InboundRPS > 0 {
		burst := wsCfg.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(wsCfg.InboundRPS), burst)
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, bufSize),
		UserID:     userID,
		authorizer: authorizer,
		limiter:    limiter,
		log:        hub.log.With(zap.Uint("userID", userID)),
	}
}

// Send 返回只读的发送通道。
func (c *Client) Send() <-chan []byte { return c.send }

// handleFrame 处理一个客户端帧。返回的错误会以 error 事件回给客户端, 不会断开连接。
func (c *Client) handleFrame(ctx context.Context, frame imtypes.ClientFrame) error {
	switch frame.Action {
	case imtypes.ActionPing:
		return c.reply(frame.Room, imtypes.EventPong, nil)

	case imtypes.ActionJoin:
		kind, id, err := imtypes.ParseRoom(frame.Room)
		if err != nil {
			return err
		}
		if kind == imtypes.RoomUser {
			if id != c.UserID {
				return errors.New("不能加入其他用户的房间")
			}
		} else {
			if c.authorizer == nil {
				return errors.New("未配置房间权限检查")
			}
			ok, err := c.authorizer.CanJoin(ctx, c.UserID, frame.Room)
			if err != nil {
				c.log.Error("检查房间权限失败", zap.String("room", frame.Room), zap.Error(err))
				return errors.New("检查房间权限失败")
			}
			if !ok {
				return errors.New("没有权限加入该房间")
			}
		}
		if err := c.hub.Join(c, frame.Room); err != nil {
			return err
		}
		return c.reply(frame.Room, imtypes.EventRoomJoined, nil)

	case imtypes.ActionLeave:
		if err := c.hub.Leave(c, frame.Room); err != nil {
			return err
		}
		return c.reply(frame.Room, imtypes.EventRoomLeft, nil)
	}
	return errors.New("未知的指令: " + frame.Action)
}

func (c *Client) reply(room, event string, payload interface{}) error {
	data, err := imtypes.NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	return c.hub.Reply(c, data)
}

func (c *Client) replyError(frame imtypes.ClientFrame, msg string) {
	if err := c.reply(frame.Room, imtypes.EventError, imtypes.ErrorPayload{Action: frame.Action, Room: frame.Room, Message: msg}); err != nil && !errors.Is(err, ErrClientClosed) {
		c.log.Debug("回复错误帧失败", zap.Error(err))
	}
}

// readPump pumps frames from the websocket connection to handleFrame.
func (c *Client) readPump(ctx context.Context, wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket 连接异常关闭", zap.Error(err))
			} else {
				c.log.Debug("WebSocket 读取结束", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Warn("客户端发送了非文本消息", zap.Int("type", messageType))
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.replyError(frame, "无法解析指令")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			metrics.EventsDropped.WithLabelValues("inbound_rate_limited").Inc()
			c.replyError(frame, "请求过于频繁")
			continue
		}
		if err := c.handleFrame(ctx, frame); err != nil {
			if errors.Is(err, ErrClientClosed) || errors.Is(err, ErrHubClosed) {
				return
			}
			c.replyError(frame, err.Error())
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 把已排队的帧合并到同一次写入, 每行一个 JSON
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newlineBytes)
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs 升级 HTTP 连接并把已认证的用户接入 Hub。
func ServeWs(ctx context.Context, hub *Hub, authorizer Authorizer, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsCfg.MaxMessageSizeBytes,
		WriteBufferSize: wsCfg.MaxMessageSizeBytes,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	client := NewClient(hub, conn, userID, authorizer, wsCfg)
	if err := hub.Register(client); err != nil {
		conn.Close()
		return
	}

	go client.writePump(wsCfg)
	go client.readPump(ctx, wsCfg)

	hub.log.Info("客户端已连接", zap.Uint("userID", userID))
}

// Package dispatch 把已提交的状态变化作为事件发布到房间。
//
// 发布没有重试也没有持久队列: 不在线的连接错过的事件只能通过 REST 补拉。
package dispatch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"sitechat/internal/imtypes"
	"sitechat/pkg/logger"
	"sitechat/pkg/metrics"
	"sitechat/pkg/tracing"
)

// Publisher 向房间发布一个事件。
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload interface{}) error
}

// Deliverer 把编码好的帧投递给本实例上房间内的连接 (websocket.Hub)。
type Deliverer interface {
	Publish(ctx context.Context, room string, frame []byte) error
}

// Evictor 把用户的连接移出房间。websocket.Hub 实现了它。
type Evictor interface {
	Evict(ctx context.Context, room string, userID uint) error
}

// RevokeRoom 发布 roomRevoked 控制事件。它和房间内的其它事件走同一个 key / 主题,
// 每个实例都按发布顺序先撤销再投递后续事件。
func RevokeRoom(ctx context.Context, pub Publisher, room string, userID uint) error {
	return pub.Publish(ctx, room, imtypes.EventRoomRevoked, imtypes.RoomRevokedPayload{UserID: userID})
}

// deliver 把总线上的一帧交给本实例的 Hub; roomRevoked 转为 Evict, 不下发给客户端。
func deliver(ctx context.Context, hub Deliverer, env imtypes.Envelope, frame []byte) error {
	if env.Event != imtypes.EventRoomRevoked {
		return hub.Publish(ctx, env.Room, frame)
	}
	var payload imtypes.RoomRevokedPayload
	if err := env.DecodePayload(&payload); err != nil || payload.UserID == 0 {
		return fmt.Errorf("无效的 roomRevoked 事件: %s", frame)
	}
	evictor, ok := hub.(Evictor)
	if !ok {
		return nil
	}
	return evictor.Evict(ctx, env.Room, payload.UserID)
}

// HubPublisher 直接投递给同进程的 Hub, 用于单进程部署 (EVENTS_BROKER=local)。
type HubPublisher struct {
	hub Deliverer
}

func NewHubPublisher(hub Deliverer) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, room, event string, payload interface{}) error {
	frame, err := imtypes.NewEnvelope(room, event, payload)
	if err != nil {
		return fmt.Errorf("编码事件 %s 失败: %w", event, err)
	}
	env, err := decodeEnvelope(frame)
	if err != nil {
		return err
	}
	return deliver(ctx, p.hub, env, frame)
}

// Instrumented 为发布记录指标、日志和 trace span。
type Instrumented struct {
	next Publisher
	log  *logger.Logger
}

func NewInstrumented(next Publisher, log *logger.Logger) *Instrumented {
	return &Instrumented{next: next, log: log.Named("dispatch")}
}

func (p *Instrumented) Publish(ctx context.Context, room, event string, payload interface{}) error {
	ctx, span := tracing.Start(ctx, "dispatch.Publish",
		attribute.String("room", room),
		attribute.String("event", event))
	defer span.End()

	err := p.next.Publish(ctx, room, event, payload)
	metrics.RecordPublish(event, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn("发布事件失败", zap.String("room", room), zap.String("event", event), zap.Error(err))
		return err
	}
	p.log.Debug("事件已发布", zap.String("room", room), zap.String("event", event))
	return nil
}

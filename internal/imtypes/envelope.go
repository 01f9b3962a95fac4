package imtypes

import "encoding/json"

// 服务端推送给客户端的事件名称。
const (
	EventMessageCreated      = "messageCreated"
	EventMessageSeen         = "messageSeen"
	EventReactionChanged     = "reactionChanged"
	EventConversationUpdated = "conversationUpdated"
	EventMembershipChanged   = "membershipChanged"
	EventConversationCreated = "conversationCreated"
	EventDiscussionPosted    = "discussionPosted"
	EventDiscussionReplied   = "discussionReplied"
	EventNotificationCreated = "notificationCreated"

	// 连接层的控制帧
	EventRoomJoined = "roomJoined"
	EventRoomLeft   = "roomLeft"
	EventError      = "error"
	EventPong       = "pong"

	// 总线上的控制事件, 由 Hub 处理, 不转发给客户端
	EventRoomRevoked = "roomRevoked"
)

// Envelope 是 websocket 上服务端到客户端的帧, 也是事件总线上传输的格式。
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope 序列化 payload 并返回编码后的帧。
func NewEnvelope(room, event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Room: room, Payload: raw})
}

// DecodePayload 将 envelope 的 payload 解码到 v。
func (e Envelope) DecodePayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// 客户端发送给服务端的指令。
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
	ActionPing  = "ping"
)

// ClientFrame 是客户端到服务端的帧。消息发送走 REST, websocket 只管理房间。
type ClientFrame struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
}

// ErrorPayload 随 EventError 返回给客户端。
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

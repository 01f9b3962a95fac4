package imtypes

// AttachmentView 是消息附件在线上的形态。Path 需要换取签名 URL 才能下载。
type AttachmentView struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Path string `json:"storagePath"`
	Size int64  `json:"size,omitempty"`
}

// ReactionView 一个用户的表情回应。
type ReactionView struct {
	UserID uint   `json:"userId"`
	Emoji  string `json:"emoji"`
}

// SeenView 一个用户最后看到某条消息的时间 (毫秒)。
type SeenView struct {
	UserID    uint  `json:"userId"`
	Timestamp int64 `json:"timestamp"`
}

// MessageView 是消息在线上的形态, REST 与 websocket 共用。
type MessageView struct {
	ID             uint             `json:"id"`
	ClientID       string           `json:"clientId,omitempty"`
	ConversationID uint             `json:"conversationId"`
	SenderID       uint             `json:"senderId"`
	Body           string           `json:"body"`
	Attachments    []AttachmentView `json:"attachments"`
	Timestamp      int64            `json:"timestamp"`
	Sequence       int64            `json:"sequence"`
	ParentID       *uint            `json:"parentId,omitempty"`
	Mentions       []uint           `json:"mentions,omitempty"`
	Reactions      []ReactionView   `json:"reactions"`
	SeenBy         []SeenView       `json:"seenBy"`
}

// LastEventView 会话列表使用的最后事件摘要。
type LastEventView struct {
	ContentPreview string `json:"contentPreview"`
	SenderID       uint   `json:"senderId"`
	Timestamp      int64  `json:"timestampNum"`
	Sequence       int64  `json:"sequence"`
}

// ConversationView 是会话在线上的形态。
type ConversationView struct {
	ID           uint           `json:"id"`
	Kind         string         `json:"kind"`
	Name         string         `json:"name,omitempty"`
	CreatorID    uint           `json:"creatorId,omitempty"`
	ProjectID    *uint          `json:"projectId,omitempty"`
	Participants []uint         `json:"participants"`
	LastEvent    *LastEventView `json:"lastEvent,omitempty"`
	CreatedAt    int64          `json:"createdAt"`
}

// ThreadView 讨论区的一个帖子及其回复 (两层)。
type ThreadView struct {
	Root    MessageView   `json:"root"`
	Replies []MessageView `json:"replies"`
}

// NotificationView 是通知在线上的形态。
type NotificationView struct {
	ID          uint        `json:"id"`
	RecipientID uint        `json:"recipientId"`
	Type        string      `json:"type"`
	Payload     interface{} `json:"payload,omitempty"`
	Read        bool        `json:"read"`
	CreatedAt   int64       `json:"createdAt"`
}

// SeenAnnotation 标记哪条消息显示 "已读" 以及由谁已读。
type SeenAnnotation struct {
	MessageID uint   `json:"messageId"`
	SeenBy    []uint `json:"seenBy"`
}

// 事件 payload

type MessageCreatedPayload struct {
	ConversationID uint        `json:"conversationId"`
	Message        MessageView `json:"message"`
}

type MessageSeenPayload struct {
	ConversationID uint  `json:"conversationId"`
	MessageID      uint  `json:"messageId"`
	UserID         uint  `json:"userId"`
	Timestamp      int64 `json:"timestamp"`
}

type ReactionChangedPayload struct {
	ConversationID uint           `json:"conversationId"`
	MessageID      uint           `json:"messageId"`
	Reactions      []ReactionView `json:"reactions"`
}

type ConversationUpdatedPayload struct {
	ConversationID uint          `json:"conversationId"`
	LastMessage    LastEventView `json:"lastMessage"`
}

type MembershipChangedPayload struct {
	ConversationID uint   `json:"conversationId"`
	Users          []uint `json:"users"`
	Name           string `json:"name"`
}

type ConversationCreatedPayload struct {
	Conversation ConversationView `json:"conversation"`
}

type DiscussionPostedPayload struct {
	ProjectID uint        `json:"projectId"`
	Message   MessageView `json:"message"`
}

type DiscussionRepliedPayload struct {
	ProjectID uint        `json:"projectId"`
	MsgID     uint        `json:"msgId"`
	Reply     MessageView `json:"reply"`
}

type NotificationCreatedPayload struct {
	Notification NotificationView `json:"notification"`
}

// RoomRevokedPayload 随 EventRoomRevoked 发布到被撤销的房间: 该用户的连接要离开这个房间。
type RoomRevokedPayload struct {
	UserID uint `json:"userId"`
}

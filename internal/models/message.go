package models

import (
	"encoding/json"
	"time"
)

// Message 代表存储在数据库中的聊天消息或讨论帖。
// SentAt 是服务端权威时间 (毫秒), 与 Sequence 一起决定会话内顺序。
type Message struct {
	BaseModel
	ConversationID uint   `gorm:"not null;uniqueIndex:idx_conv_seq;index:idx_conv_ts" json:"conversationId"`
	SenderID       uint   `gorm:"index;not null" json:"senderId"`
	Body           string `gorm:"type:text" json:"body"`
	Sequence       int64  `gorm:"not null;uniqueIndex:idx_conv_seq" json:"sequence"`
	SentAt         int64  `gorm:"not null;index:idx_conv_ts" json:"sentAt"`
	// 客户端生成的临时 ID, 原样回传给客户端用于对账
	ClientID string `gorm:"type:varchar(64)" json:"clientId,omitempty"`

	// 讨论区回复指向根帖, 根帖为 nil
	ParentID    *uint           `gorm:"index" json:"parentId,omitempty"`
	MentionsRaw json.RawMessage `gorm:"type:jsonb" json:"-"`

	Attachments []MessageAttachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	Reactions   []MessageReaction   `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
	Seen        []MessageSeen       `gorm:"foreignKey:MessageID" json:"seen,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// SetMentions stores the mentioned user ids.
func (m *Message) SetMentions(ids []uint) error {
	if len(ids) == 0 {
		m.MentionsRaw = nil
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	m.MentionsRaw = data
	return nil
}

// Mentions returns the mentioned user ids.
func (m *Message) Mentions() []uint {
	if len(m.MentionsRaw) == 0 {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal(m.MentionsRaw, &ids); err != nil {
		return nil
	}
	return ids
}

// MessageAttachment 是消息的附件描述, 只保存存储路径, 不保存签名 URL。
type MessageAttachment struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	MessageID   uint   `gorm:"not null;index" json:"messageId"`
	Position    int    `gorm:"not null" json:"position"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Mime        string `gorm:"type:varchar(127)" json:"mime"`
	StoragePath string `gorm:"type:varchar(512);not null;index" json:"storagePath"`
	Size        int64  `json:"size"`
}

func (MessageAttachment) TableName() string {
	return "message_attachments"
}

// MessageReaction 每个用户对每条消息最多一个表情。
type MessageReaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reaction_user" json:"messageId"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction_user" json:"userId"`
	Emoji     string    `gorm:"type:varchar(32);not null" json:"emoji"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (MessageReaction) TableName() string {
	return "message_reactions"
}

// MessageSeen 记录用户最后一次看到某条消息的时间 (毫秒), 每个 (消息, 用户) 一行。
type MessageSeen struct {
	ID             uint  `gorm:"primarykey" json:"id"`
	MessageID      uint  `gorm:"not null;uniqueIndex:idx_seen_user" json:"messageId"`
	UserID         uint  `gorm:"not null;uniqueIndex:idx_seen_user" json:"userId"`
	ConversationID uint  `gorm:"not null;index" json:"conversationId"`
	SeenAt         int64 `gorm:"not null" json:"seenAt"`
}

func (MessageSeen) TableName() string {
	return "message_seen"
}

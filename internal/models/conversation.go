package models

import (
	"fmt"
	"time"
)

// ConversationKind 定义了会话的类型。
type ConversationKind string

const (
	DirectConversation  ConversationKind = "direct"  // 一对一聊天
	GroupConversation   ConversationKind = "group"   // 群组聊天
	ProjectConversation ConversationKind = "project" // 项目讨论区, 每个项目一个
)

// Conversation 代表一个聊天上下文。
// LastEvent* 字段是会话列表排序用的摘要, LastEventSequence 为 0 表示还没有任何消息。
type Conversation struct {
	BaseModel
	Kind ConversationKind `gorm:"type:varchar(20);not null;index" json:"kind"`

	// 群组名称, 可修改
	Name      string `gorm:"type:varchar(255)" json:"name,omitempty"`
	CreatorID uint   `gorm:"index" json:"creatorId,omitempty"`

	// 私聊的唯一键 "<小ID>:<大ID>", 保证同一对用户只有一个私聊
	DirectKey *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	// 项目讨论区对应的项目
	ProjectID *uint `gorm:"uniqueIndex" json:"projectId,omitempty"`

	LastEventPreview  string `gorm:"type:varchar(255)" json:"-"`
	LastEventSenderID uint   `json:"-"`
	LastEventAt       int64  `gorm:"not null;default:0;index" json:"-"` // 毫秒
	LastEventSequence int64  `gorm:"not null;default:0" json:"-"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// HasLastEvent reports whether any message was ever recorded.
func (c *Conversation) HasLastEvent() bool {
	return c.LastEventSequence > 0
}

// ParticipantIDs returns the loaded participant user ids.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// DirectKey 返回一对用户的私聊唯一键, 与参数顺序无关。
func DirectKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ConversationParticipant 将用户链接到会话。
// 移除成员是物理删除, 以便之后可以重新加入。
type ConversationParticipant struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	ConversationID uint      `gorm:"not null;uniqueIndex:idx_participant" json:"conversationId"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_participant;index" json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// ConversationSequence 保存数据库序列后端的每会话计数器。
type ConversationSequence struct {
	ConversationID uint  `gorm:"primaryKey;autoIncrement:false"`
	LastSequence   int64 `gorm:"not null;default:0"`
	LastTimestamp  int64 `gorm:"not null;default:0"`
}

func (ConversationSequence) TableName() string {
	return "conversation_sequences"
}

package models

import (
	"encoding/json"
	"time"
)

// NotificationType 通知类型。
type NotificationType string

const (
	NotificationMention    NotificationType = "mention"
	NotificationReply      NotificationType = "discussion_reply"
	NotificationGroupAdded NotificationType = "group_added"
)

// Notification 通过 user:<id> 房间推送给接收者。
type Notification struct {
	BaseModel
	RecipientID uint             `gorm:"not null;index" json:"recipientId"`
	Type        NotificationType `gorm:"type:varchar(32);not null" json:"type"`
	PayloadRaw  json.RawMessage  `gorm:"type:jsonb" json:"payload,omitempty"`
	Read        bool             `gorm:"not null;default:false;index" json:"read"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

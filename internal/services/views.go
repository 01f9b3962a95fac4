package services

import (
	"encoding/json"
	"unicode/utf8"

	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/ordering"
)

const previewMaxRunes = 100

// toMessageView 把数据库消息转换成线上格式。切片字段总是非 nil, 客户端不需要判空。
func toMessageView(m *models.Message) imtypes.MessageView {
	v := imtypes.MessageView{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Timestamp:      m.SentAt,
		Sequence:       m.Sequence,
		ParentID:       m.ParentID,
		Mentions:       m.Mentions(),
		Attachments:    make([]imtypes.AttachmentView, 0, len(m.Attachments)),
		Reactions:      toReactionViews(m.Reactions),
		SeenBy:         make([]imtypes.SeenView, 0, len(m.Seen)),
	}
	for _, a := range m.Attachments {
		v.Attachments = append(v.Attachments, imtypes.AttachmentView{Name: a.Name, Mime: a.Mime, Path: a.StoragePath, Size: a.Size})
	}
	for _, s := range m.Seen {
		v.SeenBy = append(v.SeenBy, imtypes.SeenView{UserID: s.UserID, Timestamp: s.SeenAt})
	}
	return v
}

func toMessageViews(list []*models.Message) []imtypes.MessageView {
	out := make([]imtypes.MessageView, 0, len(list))
	for _, m := range list {
		out = append(out, toMessageView(m))
	}
	return out
}

func toReactionViews(list []models.MessageReaction) []imtypes.ReactionView {
	out := make([]imtypes.ReactionView, 0, len(list))
	for _, r := range list {
		out = append(out, imtypes.ReactionView{UserID: r.UserID, Emoji: r.Emoji})
	}
	return out
}

func toLastEventView(c *models.Conversation) *imtypes.LastEventView {
	if !c.HasLastEvent() {
		return nil
	}
	return &imtypes.LastEventView{
		ContentPreview: c.LastEventPreview,
		SenderID:       c.LastEventSenderID,
		Timestamp:      c.LastEventAt,
		Sequence:       c.LastEventSequence,
	}
}

// toConversationView 转换会话; participants 为 nil 时使用已预加载的参与者。
func toConversationView(c *models.Conversation, participants []uint) imtypes.ConversationView {
	if participants == nil {
		participants = c.ParticipantIDs()
	}
	return imtypes.ConversationView{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Name:         c.Name,
		CreatorID:    c.CreatorID,
		ProjectID:    c.ProjectID,
		Participants: participants,
		LastEvent:    toLastEventView(c),
		CreatedAt:    c.CreatedAt.UnixMilli(),
	}
}

func toNotificationView(n *models.Notification) imtypes.NotificationView {
	v := imtypes.NotificationView{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        string(n.Type),
		Read:        n.Read,
		CreatedAt:   n.CreatedAt.UnixMilli(),
	}
	if len(n.PayloadRaw) > 0 {
		v.Payload = json.RawMessage(n.PayloadRaw)
	}
	return v
}

// preview 生成会话列表显示的摘要: 正文截断, 没有正文时显示第一个附件名。
func preview(body string, files []imtypes.FileInfo) string {
	if body == "" && len(files) > 0 {
		return "[附件] " + files[0].FileName
	}
	if utf8.RuneCountInString(body) <= previewMaxRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewMaxRunes]) + "…"
}

// listEntry 让会话视图参与 ordering 的排序。
type listEntry struct {
	imtypes.ConversationView
}

func (e listEntry) LastEventKey() (ordering.Key, bool) {
	if e.LastEvent == nil {
		return ordering.Key{}, false
	}
	return ordering.Key{Timestamp: e.LastEvent.Timestamp, Sequence: e.LastEvent.Sequence}, true
}

func (e listEntry) CreatedAtMillis() int64 { return e.CreatedAt }

func (e listEntry) EntryID() uint { return e.ID }

package services

import (
	"context"
	"fmt"
	"strings"

	"sitechat/internal/imtypes"
	"sitechat/internal/models"
	"sitechat/internal/sequence"
	"sitechat/internal/storage"
	"sitechat/pkg/metrics"
)

const maxClientIDLength = 64

// Draft 是一条待写入的消息或讨论帖。Files 必须已经上传到存储。
type Draft struct {
	SenderID uint
	Body     string
	ClientID string
	Mentions []uint
	Files    []imtypes.FileInfo
}

// messageWriter 给消息盖上会话的 (sequence, timestamp) 戳并持久化。
// 聊天和讨论区共用它, 保证两者的顺序规则一致。
type messageWriter struct {
	msgRepo  storage.MessageRepository
	seq      sequence.Authority
	maxFiles int
}

func (w messageWriter) validate(d *Draft) error {
	d.Body = strings.TrimSpace(d.Body)
	if d.Body == "" && len(d.Files) == 0 {
		return invalid("消息内容和附件不能同时为空")
	}
	if w.maxFiles > 0 && len(d.Files) > w.maxFiles {
		return invalid("附件数量不能超过 %d", w.maxFiles)
	}
	if len(d.ClientID) > maxClientIDLength {
		return invalid("clientId 过长")
	}
	return nil
}

func (w messageWriter) write(ctx context.Context, conv *models.Conversation, d Draft, parentID *uint) (*models.Message, error) {
	stamp, err := w.seq.Next(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("分配会话 %d 序列号失败: %w", conv.ID, err)
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       d.SenderID,
		Body:           d.Body,
		Sequence:       stamp.Sequence,
		SentAt:         stamp.Timestamp,
		ClientID:       d.ClientID,
		ParentID:       parentID,
	}
	if err := msg.SetMentions(d.Mentions); err != nil {
		return nil, fmt.Errorf("编码提及列表失败: %w", err)
	}
	for _, f := range d.Files {
		msg.Attachments = append(msg.Attachments, models.MessageAttachment{
			Name:        f.FileName,
			Mime:        f.MimeType,
			StoragePath: f.Path,
			Size:        f.Size,
		})
	}
	summary := preview(d.Body, d.Files)
	// 消息和会话摘要在同一事务中提交: 返回错误时消息一定没有保存, 客户端可以放心重发
	if err := w.msgRepo.Create(ctx, msg, summary); err != nil {
		// 序列号已经消耗, 留下空洞; 客户端按 (timestamp, sequence) 排序, 不依赖连续
		return nil, fmt.Errorf("保存消息失败: %w", err)
	}
	conv.LastEventPreview = summary
	conv.LastEventSenderID = d.SenderID
	conv.LastEventAt = stamp.Timestamp
	conv.LastEventSequence = stamp.Sequence

	metrics.MessagesTotal.WithLabelValues(string(conv.Kind)).Inc()
	return msg, nil
}

package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitechat/internal/models"
)

// MessageRepository 定义了消息、表情回应和已读记录的数据操作接口。
type MessageRepository interface {
	// Create 同时写入附件
	// Create 在同一个事务里写入消息并推进会话摘要, 任一步失败都不会留下消息
	Create(ctx context.Context, message *models.Message, preview string) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// ListByConversation 按 (sent_at, sequence) 升序返回 afterSequence 之后的消息; limit<=0 表示不限
	ListByConversation(ctx context.Context, conversationID uint, afterSequence int64, limit int) ([]*models.Message, error)
	// ListRecent 返回最近 limit 条消息 (升序), 用于已读标记计算
	ListRecent(ctx context.Context, conversationID uint, limit int) ([]*models.Message, error)
	ListRoots(ctx context.Context, conversationID uint) ([]*models.Message, error)
	ListReplies(ctx context.Context, rootIDs []uint) ([]*models.Message, error)
	MaxSequence(ctx context.Context, conversationID uint) (int64, int64, error)
	// FindAttachmentConversation 返回包含该存储路径的消息所在会话, 未找到时返回 0
	FindAttachmentConversation(ctx context.Context, storagePath string) (uint, error)

	GetReaction(ctx context.Context, messageID, userID uint) (*models.MessageReaction, error)
	UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error
	DeleteReaction(ctx context.Context, messageID, userID uint) error
	ListReactions(ctx context.Context, messageID uint) ([]models.MessageReaction, error)

	UpsertSeen(ctx context.Context, seen *models.MessageSeen) error
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func preloadDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
		Preload("Seen", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") })
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message, preview string) error {
	for i := range message.Attachments {
		message.Attachments[i].Position = i
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return advanceLastEvent(tx, message.ConversationID, LastEvent{
			Preview:   preview,
			SenderID:  message.SenderID,
			Timestamp: message.SentAt,
			Sequence:  message.Sequence,
		})
	})
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := preloadDetails(r.db.WithContext(ctx)).First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormMessageRepository) ListByConversation(ctx context.Context, conversationID uint, afterSequence int64, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	query := preloadDetails(r.db.WithContext(ctx)).
		Where("conversation_id = ? AND sequence > ?", conversationID, afterSequence).
		Order("sent_at ASC").Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *gormMessageRepository) ListRecent(ctx context.Context, conversationID uint, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	query := preloadDetails(r.db.WithContext(ctx)).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC").Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *gormMessageRepository) ListRoots(ctx context.Context, conversationID uint) ([]*models.Message, error) {
	var messages []*models.Message
	err := preloadDetails(r.db.WithContext(ctx)).
		Where("conversation_id = ? AND parent_id IS NULL", conversationID).
		Order("sent_at ASC").Order("sequence ASC").
		Find(&messages).Error
	return messages, err
}

func (r *gormMessageRepository) ListReplies(ctx context.Context, rootIDs []uint) ([]*models.Message, error) {
	var messages []*models.Message
	if len(rootIDs) == 0 {
		return messages, nil
	}
	err := preloadDetails(r.db.WithContext(ctx)).
		Where("parent_id IN ?", rootIDs).
		Order("sent_at ASC").Order("sequence ASC").
		Find(&messages).Error
	return messages, err
}

// MaxSequence 返回会话中已持久化的最大 sequence 和最大 sent_at。
func (r *gormMessageRepository) MaxSequence(ctx context.Context, conversationID uint) (int64, int64, error) {
	var row struct {
		Seq int64
		Ts  int64
	}
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Message{}).
		Select("COALESCE(MAX(sequence), 0) AS seq, COALESCE(MAX(sent_at), 0) AS ts").
		Where("conversation_id = ?", conversationID).
		Scan(&row).Error
	return row.Seq, row.Ts, err
}

func (r *gormMessageRepository) FindAttachmentConversation(ctx context.Context, storagePath string) (uint, error) {
	var conversationIDs []uint
	err := r.db.WithContext(ctx).
		Table("message_attachments AS a").
		Joins("JOIN messages AS m ON m.id = a.message_id").
		Where("a.storage_path = ? AND m.deleted_at IS NULL", storagePath).
		Limit(1).
		Pluck("m.conversation_id", &conversationIDs).Error
	if err != nil || len(conversationIDs) == 0 {
		return 0, err
	}
	return conversationIDs[0], nil
}

// GetReaction 未找到时返回 nil, nil
func (r *gormMessageRepository) GetReaction(ctx context.Context, messageID, userID uint) (*models.MessageReaction, error) {
	var reaction models.MessageReaction
	err := r.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, userID).First(&reaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reaction, nil
}

func (r *gormMessageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
	}).Create(reaction).Error
}

func (r *gormMessageRepository) DeleteReaction(ctx context.Context, messageID, userID uint) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.MessageReaction{}).Error
}

func (r *gormMessageRepository) ListReactions(ctx context.Context, messageID uint) ([]models.MessageReaction, error) {
	var reactions []models.MessageReaction
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Order("user_id ASC").Find(&reactions).Error
	return reactions, err
}

// UpsertSeen 每个 (消息, 用户) 只有一行, 重复标记只刷新时间。
func (r *gormMessageRepository) UpsertSeen(ctx context.Context, seen *models.MessageSeen) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seen_at"}),
	}).Create(seen).Error
}

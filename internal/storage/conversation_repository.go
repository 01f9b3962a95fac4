package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitechat/internal/models"
)

// LastEvent 是会话列表排序用的最后事件摘要。
type LastEvent struct {
	Preview   string
	SenderID  uint
	Timestamp int64
	Sequence  int64
}

// ConversationRepository 定义了会话数据操作的接口。
type ConversationRepository interface {
	// CreateWithParticipants 在一个事务中创建会话及其参与者
	CreateWithParticipants(ctx context.Context, conversation *models.Conversation, userIDs []uint) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	// GetWithParticipants 预加载参与者
	GetWithParticipants(ctx context.Context, id uint) (*models.Conversation, error)
	// FindDirectByKey 未找到时返回 nil, nil
	FindDirectByKey(ctx context.Context, key string) (*models.Conversation, error)
	// FindByProject 未找到时返回 nil, nil
	FindByProject(ctx context.Context, projectID uint) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error)
	UpdateName(ctx context.Context, id uint, name string) error

	AddParticipants(ctx context.Context, conversationID uint, userIDs []uint) ([]uint, error)
	RemoveParticipant(ctx context.Context, conversationID uint, userID uint) error
	IsParticipant(ctx context.Context, conversationID uint, userID uint) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error)
	GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error)
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

func (r *gormConversationRepository) CreateWithParticipants(ctx context.Context, conversation *models.Conversation, userIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}
		now := time.Now()
		participants := make([]models.ConversationParticipant, 0, len(userIDs))
		for _, uid := range userIDs {
			participants = append(participants, models.ConversationParticipant{
				ConversationID: conversation.ID,
				UserID:         uid,
				JoinedAt:       now,
			})
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("添加会话 %d 的参与者失败: %w", conversation.ID, err)
		}
		conversation.Participants = participants
		return nil
	})
}

// GetByID 通过ID检索会话。
func (r *gormConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).First(&conversation, id).Error; err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) GetWithParticipants(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
		First(&conversation, id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) FindDirectByKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("kind = ? AND direct_key = ?", models.DirectConversation, key).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) FindByProject(ctx context.Context, projectID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("kind = ? AND project_id = ?", models.ProjectConversation, projectID).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

// ListForUser 获取用户参与的所有会话 (不排序, 排序由 ordering 包负责)。
func (r *gormConversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Preload("Participants").
		Find(&conversations).Error
	return conversations, err
}

func (r *gormConversationRepository) UpdateName(ctx context.Context, id uint, name string) error {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// advanceLastEvent 只在新事件的 (timestamp, sequence) 更大时更新会话摘要。
// 并发提交可能乱序到达, 条件更新保证摘要只前进不后退。
func advanceLastEvent(tx *gorm.DB, id uint, ev LastEvent) error {
	return tx.Model(&models.Conversation{}).
		Where("id = ? AND (last_event_at < ? OR (last_event_at = ? AND last_event_sequence < ?))",
			id, ev.Timestamp, ev.Timestamp, ev.Sequence).
		Updates(map[string]interface{}{
			"last_event_preview":   ev.Preview,
			"last_event_sender_id": ev.SenderID,
			"last_event_at":        ev.Timestamp,
			"last_event_sequence":  ev.Sequence,
		}).Error
}

// AddParticipants 添加参与者, 已存在的忽略。返回真正新增的用户。
func (r *gormConversationRepository) AddParticipants(ctx context.Context, conversationID uint, userIDs []uint) ([]uint, error) {
	var added []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, uid := range userIDs {
			p := models.ConversationParticipant{ConversationID: conversationID, UserID: uid, JoinedAt: now}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p)
			if res.Error != nil {
				return fmt.Errorf("添加参与者 %d 失败: %w", uid, res.Error)
			}
			if res.RowsAffected > 0 {
				added = append(added, uid)
			}
		}
		return nil
	})
	return added, err
}

// RemoveParticipant 从会话中移除参与者。
func (r *gormConversationRepository) RemoveParticipant(ctx context.Context, conversationID uint, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&models.ConversationParticipant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormConversationRepository) IsParticipant(ctx context.Context, conversationID uint, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormConversationRepository) ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetConversationParticipants 获取会话的所有参与者。
func (r *gormConversationRepository) GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	var participants []*models.ConversationParticipant
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("joined_at ASC").Find(&participants).Error
	return participants, err
}

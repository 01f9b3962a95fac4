package sequence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitechat/internal/models"
	"sitechat/pkg/metrics"
)

// GormAuthority 把计数器保存在 conversation_sequences 表中。
// 行级 UPDATE 在数据库端串行化并发实例, 进程内的 KeyedMutex 减少同一会话的锁竞争。
type GormAuthority struct {
	db    *gorm.DB
	locks *KeyedMutex
	clock Clock
}

func NewGormAuthority(db *gorm.DB, clock Clock) *GormAuthority {
	if clock == nil {
		clock = SystemClock
	}
	return &GormAuthority{db: db, locks: NewKeyedMutex(), clock: clock}
}

// Next 分配下一个戳。
func (a *GormAuthority) Next(ctx context.Context, conversationID uint) (Stamp, error) {
	unlock := a.locks.Lock(conversationID)
	defer unlock()

	var row models.ConversationSequence
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ConversationSequence{ConversationID: conversationID}).Error; err != nil {
			return err
		}
		now := a.clock()
		res := tx.Model(&models.ConversationSequence{}).
			Where("conversation_id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_sequence":  gorm.Expr("last_sequence + 1"),
				"last_timestamp": gorm.Expr("CASE WHEN last_timestamp > ? THEN last_timestamp ELSE ? END", now, now),
			})
		if res.Error != nil {
			return res.Error
		}
		return tx.Where("conversation_id = ?", conversationID).First(&row).Error
	})
	if err != nil {
		return Stamp{}, fmt.Errorf("数据库分配会话 %d 序列号失败: %w", conversationID, err)
	}
	metrics.SequenceAssigned.WithLabelValues("database").Inc()
	return Stamp{Sequence: row.LastSequence, Timestamp: row.LastTimestamp}, nil
}

// Current 返回会话当前的计数器, 不存在时返回零值。
func (a *GormAuthority) Current(ctx context.Context, conversationID uint) (Stamp, error) {
	var row models.ConversationSequence
	err := a.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Limit(1).Find(&row).Error
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{Sequence: row.LastSequence, Timestamp: row.LastTimestamp}, nil
}

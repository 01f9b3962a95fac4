package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitechat/internal/models"
)

// ProjectRepository 查询项目成员关系。项目本身由 CRUD 后台维护。
type ProjectRepository interface {
	AddMember(ctx context.Context, projectID, userID uint) error
	// RemoveMember 不是成员时返回 gorm.ErrRecordNotFound
	RemoveMember(ctx context.Context, projectID, userID uint) error
	IsMember(ctx context.Context, projectID, userID uint) (bool, error)
	MemberIDs(ctx context.Context, projectID uint) ([]uint, error)
}

type gormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建一个新的基于 GORM 的 ProjectRepository。
func NewGormProjectRepository(db *gorm.DB) ProjectRepository {
	return &gormProjectRepository{db: db}
}

func (r *gormProjectRepository) AddMember(ctx context.Context, projectID, userID uint) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProjectMember{ProjectID: projectID, UserID: userID}).Error
}

func (r *gormProjectRepository) RemoveMember(ctx context.Context, projectID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&models.ProjectMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormProjectRepository) IsMember(ctx context.Context, projectID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormProjectRepository) MemberIDs(ctx context.Context, projectID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ?", projectID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
)

// GradeRepository 成绩数据访问接口
type GradeRepository interface {
	GetBySubmissionID(ctx context.Context, submissionID string) (*model.Grade, error)
	// Save 按 grade_id 插入或整行覆盖
	Save(ctx context.Context, grade *model.Grade) error
	// ListByUser 返回用户全部提交的成绩（含 Submission.Module）
	ListByUser(ctx context.Context, userID string) ([]model.Submission, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	DeleteByModule(ctx context.Context, moduleID string) error
}

type gradeRepo struct {
	db *gorm.DB
}

// NewGradeRepo 创建 GradeRepository 实例
func NewGradeRepo(db *gorm.DB) GradeRepository {
	return &gradeRepo{db: db}
}

func (r *gradeRepo) GetBySubmissionID(ctx context.Context, submissionID string) (*model.Grade, error) {
	var grade model.Grade
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		First(&grade).Error
	if err != nil {
		return nil, err
	}
	return &grade, nil
}

func (r *gradeRepo) Save(ctx context.Context, grade *model.Grade) error {
	if grade.GradeID == "" {
		return r.db.WithContext(ctx).Create(grade).Error
	}
	return r.db.WithContext(ctx).Save(grade).Error
}

func (r *gradeRepo) ListByUser(ctx context.Context, userID string) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.db.WithContext(ctx).
		Joins("JOIN grades ON grades.submission_id = submissions.submission_id").
		Preload("Module").Preload("Grade").
		Where("submissions.user_id = ?", userID).
		Order("submissions.submitted_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *gradeRepo) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Grade{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *gradeRepo) DeleteByModule(ctx context.Context, moduleID string) error {
	sub := r.db.Model(&model.Submission{}).
		Select("submission_id").
		Where("module_id = ?", moduleID)
	return r.db.WithContext(ctx).
		Where("submission_id IN (?)", sub).
		Delete(&model.Grade{}).Error
}

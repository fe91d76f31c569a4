package repository

import (
	"context"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
)

// SubmissionFilter 管理端提交列表筛选
type SubmissionFilter struct {
	ModuleID       string
	SubmissionType string
	// GradeStatus: pending（无成绩或待评分）| completed | failed
	GradeStatus string
	Offset      int
	Limit       int
}

// SubmissionRepository 提交记录数据访问接口
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	Update(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	GetByTriple(ctx context.Context, userID, moduleID, submissionType string) (*model.Submission, error)
	// Exists 查询 (user, module) 是否存在提交；submissionType 为空表示任意类型
	Exists(ctx context.Context, userID, moduleID, submissionType string) (bool, error)
	// ListByUser 含 Module、Grade，按提交时间倒序
	ListByUser(ctx context.Context, userID string) ([]model.Submission, error)
	ListByUserAndModules(ctx context.Context, userID string, moduleIDs []string) ([]model.Submission, error)
	ListByModule(ctx context.Context, moduleID string) ([]model.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]model.Submission, int64, error)
	ListRecent(ctx context.Context, limit int) ([]model.Submission, error)
	Count(ctx context.Context) (int64, error)
	// CountByModule moduleID → 提交数
	CountByModule(ctx context.Context) (map[string]int64, error)
	DeleteByModule(ctx context.Context, moduleID string) error
}

type submissionRepo struct {
	db *gorm.DB
}

// NewSubmissionRepo 创建 SubmissionRepository 实例
func NewSubmissionRepo(db *gorm.DB) SubmissionRepository {
	return &submissionRepo{db: db}
}

func (r *submissionRepo) Create(ctx context.Context, sub *model.Submission) error {
	return r.db.WithContext(ctx).Omit("User", "Module", "Grade").Create(sub).Error
}

func (r *submissionRepo) Update(ctx context.Context, sub *model.Submission) error {
	return r.db.WithContext(ctx).Omit("User", "Module", "Grade").Save(sub).Error
}

func (r *submissionRepo) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	err := r.db.WithContext(ctx).
		Preload("User").Preload("Module").Preload("Grade").
		Where("submission_id = ?", id).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepo) GetByTriple(ctx context.Context, userID, moduleID, submissionType string) (*model.Submission, error) {
	var sub model.Submission
	err := r.db.WithContext(ctx).
		Preload("Grade").
		Where("user_id = ? AND module_id = ? AND submission_type = ?", userID, moduleID, submissionType).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepo) Exists(ctx context.Context, userID, moduleID, submissionType string) (bool, error) {
	var count int64
	db := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Where("user_id = ? AND module_id = ?", userID, moduleID)
	if submissionType != "" {
		db = db.Where("submission_type = ?", submissionType)
	}
	if err := db.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *submissionRepo) ListByUser(ctx context.Context, userID string) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.db.WithContext(ctx).
		Preload("Module").Preload("Grade").
		Where("user_id = ?", userID).
		Order("submitted_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepo) ListByUserAndModules(ctx context.Context, userID string, moduleIDs []string) ([]model.Submission, error) {
	var subs []model.Submission
	if len(moduleIDs) == 0 {
		return subs, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Grade").
		Where("user_id = ? AND module_id IN ?", userID, moduleIDs).
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepo) ListByModule(ctx context.Context, moduleID string) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.db.WithContext(ctx).
		Preload("User").Preload("Grade").
		Where("module_id = ?", moduleID).
		Order("submitted_at ASC").
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepo) List(ctx context.Context, filter SubmissionFilter) ([]model.Submission, int64, error) {
	var subs []model.Submission
	var total int64

	db := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Joins("LEFT JOIN grades ON grades.submission_id = submissions.submission_id")
	if filter.ModuleID != "" {
		db = db.Where("submissions.module_id = ?", filter.ModuleID)
	}
	if filter.SubmissionType != "" {
		db = db.Where("submissions.submission_type = ?", filter.SubmissionType)
	}
	switch filter.GradeStatus {
	case model.GradeStatusPending:
		db = db.Where("grades.grade_id IS NULL OR grades.status = ?", model.GradeStatusPending)
	case model.GradeStatusCompleted, model.GradeStatusFailed:
		db = db.Where("grades.status = ?", filter.GradeStatus)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		db = db.Offset(filter.Offset).Limit(filter.Limit)
	}
	err := db.Preload("User").Preload("Module").Preload("Grade").
		Order("submissions.submitted_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func (r *submissionRepo) ListRecent(ctx context.Context, limit int) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.db.WithContext(ctx).
		Preload("User").Preload("Module").Preload("Grade").
		Order("submitted_at DESC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Submission{}).Count(&count).Error
	return count, err
}

func (r *submissionRepo) CountByModule(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ModuleID string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Select("module_id, COUNT(*) AS count").
		Group("module_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.ModuleID] = row.Count
	}
	return result, nil
}

func (r *submissionRepo) DeleteByModule(ctx context.Context, moduleID string) error {
	return r.db.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Delete(&model.Submission{}).Error
}

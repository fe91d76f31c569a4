package repository

import (
	"context"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
)

// HolderCount 某模块按角色统计的持有人数
type HolderCount struct {
	ModuleID string
	Role     string
	Count    int64
}

// SelectionRepository 选课台账数据访问接口
type SelectionRepository interface {
	Create(ctx context.Context, sel *model.UserModuleSelection) error
	GetByUserAndModule(ctx context.Context, userID, moduleID string) (*model.UserModuleSelection, error)
	// ListByUser 按 selected_at、selection_id 升序返回用户持有的全部记录（含 Module）
	ListByUser(ctx context.Context, userID string) ([]model.UserModuleSelection, error)
	// ListByModule 返回模块的全部持有记录（含 User）
	ListByModule(ctx context.Context, moduleID string) ([]model.UserModuleSelection, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	// CountHoldersByRole 统计持有该模块且角色为 role 的不同用户数
	CountHoldersByRole(ctx context.Context, moduleID, role string) (int64, error)
	// HolderCounts 批量统计模块的分角色持有人数；moduleIDs 为空时统计全部模块
	HolderCounts(ctx context.Context, moduleIDs []string) ([]HolderCount, error)
	// ListHolderUserIDs 返回全部至少持有一个模块的用户
	ListHolderUserIDs(ctx context.Context) ([]string, error)
	DeactivateAll(ctx context.Context, userID string) error
	Activate(ctx context.Context, selectionID string) error
	Delete(ctx context.Context, selectionID string) error
	DeleteByModule(ctx context.Context, moduleID string) error
	StampVersion(ctx context.Context, selectionID, version string) error
}

type selectionRepo struct {
	db *gorm.DB
}

// NewSelectionRepo 创建 SelectionRepository 实例
func NewSelectionRepo(db *gorm.DB) SelectionRepository {
	return &selectionRepo{db: db}
}

func (r *selectionRepo) Create(ctx context.Context, sel *model.UserModuleSelection) error {
	return r.db.WithContext(ctx).Create(sel).Error
}

func (r *selectionRepo) GetByUserAndModule(ctx context.Context, userID, moduleID string) (*model.UserModuleSelection, error) {
	var sel model.UserModuleSelection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND module_id = ?", userID, moduleID).
		First(&sel).Error
	if err != nil {
		return nil, err
	}
	return &sel, nil
}

func (r *selectionRepo) ListByUser(ctx context.Context, userID string) ([]model.UserModuleSelection, error) {
	var sels []model.UserModuleSelection
	err := r.db.WithContext(ctx).
		Preload("Module").
		Where("user_id = ?", userID).
		Order("selected_at ASC, selection_id ASC").
		Find(&sels).Error
	return sels, err
}

func (r *selectionRepo) ListByModule(ctx context.Context, moduleID string) ([]model.UserModuleSelection, error) {
	var sels []model.UserModuleSelection
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("module_id = ?", moduleID).
		Order("selected_at ASC").
		Find(&sels).Error
	return sels, err
}

func (r *selectionRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *selectionRepo) CountHoldersByRole(ctx context.Context, moduleID, role string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Joins("JOIN users ON users.user_id = user_module_selections.user_id").
		Where("user_module_selections.module_id = ? AND users.role = ?", moduleID, role).
		Distinct("user_module_selections.user_id").
		Count(&count).Error
	return count, err
}

func (r *selectionRepo) HolderCounts(ctx context.Context, moduleIDs []string) ([]HolderCount, error) {
	var rows []HolderCount
	db := r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Select("user_module_selections.module_id AS module_id, users.role AS role, COUNT(DISTINCT user_module_selections.user_id) AS count").
		Joins("JOIN users ON users.user_id = user_module_selections.user_id")
	if len(moduleIDs) > 0 {
		db = db.Where("user_module_selections.module_id IN ?", moduleIDs)
	}
	err := db.Group("user_module_selections.module_id, users.role").Scan(&rows).Error
	return rows, err
}

func (r *selectionRepo) ListHolderUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *selectionRepo) DeactivateAll(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
}

func (r *selectionRepo) Activate(ctx context.Context, selectionID string) error {
	return r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Where("selection_id = ?", selectionID).
		Update("is_active", true).Error
}

func (r *selectionRepo) Delete(ctx context.Context, selectionID string) error {
	return r.db.WithContext(ctx).
		Where("selection_id = ?", selectionID).
		Delete(&model.UserModuleSelection{}).Error
}

func (r *selectionRepo) DeleteByModule(ctx context.Context, moduleID string) error {
	return r.db.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Delete(&model.UserModuleSelection{}).Error
}

func (r *selectionRepo) StampVersion(ctx context.Context, selectionID, version string) error {
	return r.db.WithContext(ctx).
		Model(&model.UserModuleSelection{}).
		Where("selection_id = ?", selectionID).
		Update("last_notified_version", version).Error
}

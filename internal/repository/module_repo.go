package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
	pkgerrors "review-portal/backend/pkg/errors"
)

// ModuleFilter 模块列表筛选条件
type ModuleFilter struct {
	Visibilities []string // 为空表示不限
	CourseID     string
}

// ModuleRepository 模块数据访问接口
type ModuleRepository interface {
	Create(ctx context.Context, module *model.Module) error
	GetByID(ctx context.Context, id string) (*model.Module, error)
	// GetByIDForUpdate 行级锁读取模块，串行化同一模块上的容量检查
	GetByIDForUpdate(ctx context.Context, id string) (*model.Module, error)
	List(ctx context.Context, filter ModuleFilter) ([]model.Module, error)
	// UpdateWithVersion 乐观锁更新；版本不一致返回 ErrOptimisticLock
	UpdateWithVersion(ctx context.Context, module *model.Module) error
	UpdateVisibility(ctx context.Context, id, visibility, updatedBy string) error
	UpdateDriveCursor(ctx context.Context, id, cursor string) error
	CountByVisibility(ctx context.Context) (map[string]int64, error)
	Delete(ctx context.Context, id string) error
}

type moduleRepo struct {
	db *gorm.DB
}

// NewModuleRepo 创建 ModuleRepository 实例
func NewModuleRepo(db *gorm.DB) ModuleRepository {
	return &moduleRepo{db: db}
}

func (r *moduleRepo) Create(ctx context.Context, module *model.Module) error {
	if module.Version == 0 {
		module.Version = 1
	}
	return r.db.WithContext(ctx).Create(module).Error
}

func (r *moduleRepo) GetByID(ctx context.Context, id string) (*model.Module, error) {
	var module model.Module
	err := r.db.WithContext(ctx).
		Preload("Course").
		Where("module_id = ?", id).
		First(&module).Error
	if err != nil {
		return nil, err
	}
	return &module, nil
}

func (r *moduleRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Module, error) {
	var module model.Module
	err := forUpdate(r.db.WithContext(ctx)).
		Where("module_id = ?", id).
		First(&module).Error
	if err != nil {
		return nil, err
	}
	return &module, nil
}

func (r *moduleRepo) List(ctx context.Context, filter ModuleFilter) ([]model.Module, error) {
	var modules []model.Module
	db := r.db.WithContext(ctx).Preload("Course")
	if len(filter.Visibilities) > 0 {
		db = db.Where("visibility IN ?", filter.Visibilities)
	}
	if filter.CourseID != "" {
		db = db.Where("course_id = ?", filter.CourseID)
	}
	err := db.Order("week_number ASC, name ASC").Find(&modules).Error
	return modules, err
}

func (r *moduleRepo) UpdateWithVersion(ctx context.Context, module *model.Module) error {
	expected := module.Version
	module.Version = expected + 1
	module.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&model.Module{}).
		Where("module_id = ? AND version = ?", module.ModuleID, expected).
		Select("*").
		Omit("module_id", "created_at", "created_by", "Course").
		Updates(module)
	if result.Error != nil {
		module.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		module.Version = expected
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *moduleRepo) UpdateVisibility(ctx context.Context, id, visibility, updatedBy string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Module{}).
		Where("module_id = ?", id).
		Updates(map[string]interface{}{
			"visibility": visibility,
			"updated_by": updatedBy,
			"updated_at": time.Now(),
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *moduleRepo) UpdateDriveCursor(ctx context.Context, id, cursor string) error {
	return r.db.WithContext(ctx).
		Model(&model.Module{}).
		Where("module_id = ?", id).
		Updates(map[string]interface{}{
			"drive_modified_time": cursor,
			"updated_at":          time.Now(),
		}).Error
}

func (r *moduleRepo) CountByVisibility(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Visibility string
		Count      int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Module{}).
		Select("visibility, COUNT(*) AS count").
		Group("visibility").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Visibility] = row.Count
	}
	return result, nil
}

// Delete 物理删除模块本身；关联数据由调用方在同一事务内先行清理
func (r *moduleRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("module_id = ?", id).
		Delete(&model.Module{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

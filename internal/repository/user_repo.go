package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"review-portal/backend/internal/model"
)

// UserFilter 用户列表筛选条件
type UserFilter struct {
	Role    string
	Keyword string // 匹配姓名或邮箱
	Offset  int
	Limit   int
}

// UserRepository 用户数据访问接口
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByIDForUpdate 行级锁读取用户，须在事务内调用
	GetByIDForUpdate(ctx context.Context, id string) (*model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	List(ctx context.Context, filter UserFilter) ([]model.User, int64, error)
	ListByRoles(ctx context.Context, roles []string) ([]model.User, error)
	CountByRole(ctx context.Context) (map[string]int64, error)
	UpdateRole(ctx context.Context, id, role string) error
	AcceptTerms(ctx context.Context, id string, at time.Time) error
	SetReminderEnabled(ctx context.Context, id string, enabled bool) error
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	// SetSelectionPointer 写入冗余的当前选课指针；moduleID 为 nil 时清空
	SetSelectionPointer(ctx context.Context, id string, moduleID *string, selectedAt *time.Time) error
	// ClearSelectionPointerByModule 清空所有指向该模块的冗余指针（模块删除时使用）
	ClearSelectionPointerByModule(ctx context.Context, moduleID string) error
}

// userRepo UserRepository 的 GORM 实现
type userRepo struct {
	db *gorm.DB
}

// NewUserRepo 创建 UserRepository 实例
func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("user_id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := forUpdate(r.db.WithContext(ctx)).
		Where("user_id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("google_id = ?", googleID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *userRepo) List(ctx context.Context, filter UserFilter) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	db := r.db.WithContext(ctx).Model(&model.User{})
	if filter.Role != "" {
		db = db.Where("role = ?", filter.Role)
	}
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		db = db.Where("name LIKE ? OR email LIKE ?", like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		db = db.Offset(filter.Offset).Limit(filter.Limit)
	}
	if err := db.Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *userRepo) ListByRoles(ctx context.Context, roles []string) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("role IN ?", roles).
		Order("email ASC").
		Find(&users).Error
	return users, err
}

func (r *userRepo) CountByRole(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Role  string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Role] = row.Count
	}
	return result, nil
}

func (r *userRepo) UpdateRole(ctx context.Context, id, role string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"role": role})
}

func (r *userRepo) AcceptTerms(ctx context.Context, id string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"accepted_terms_at": at})
}

func (r *userRepo) SetReminderEnabled(ctx context.Context, id string, enabled bool) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"reminder_enabled": enabled})
}

func (r *userRepo) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"last_reminder_sent": at})
}

func (r *userRepo) SetSelectionPointer(ctx context.Context, id string, moduleID *string, selectedAt *time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"selected_module_id": moduleID,
		"selected_at":        selectedAt,
	})
}

func (r *userRepo) ClearSelectionPointerByModule(ctx context.Context, moduleID string) error {
	return r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("selected_module_id = ?", moduleID).
		Updates(map[string]interface{}{
			"selected_module_id": nil,
			"selected_at":        nil,
			"updated_at":         time.Now(),
		}).Error
}

// updateColumns 按主键更新指定列，未命中记录时返回 gorm.ErrRecordNotFound
func (r *userRepo) updateColumns(ctx context.Context, id string, columns map[string]interface{}) error {
	columns["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("user_id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

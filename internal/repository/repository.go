package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	User         UserRepository
	Course       CourseRepository
	Module       ModuleRepository
	Selection    SelectionRepository
	Submission   SubmissionRepository
	Grade        GradeRepository
	Notification NotificationRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:           db,
		User:         NewUserRepo(db),
		Course:       NewCourseRepo(db),
		Module:       NewModuleRepo(db),
		Selection:    NewSelectionRepo(db),
		Submission:   NewSubmissionRepo(db),
		Grade:        NewGradeRepo(db),
		Notification: NewNotificationRepo(db),
	}
}

// BeginTx 开启事务；db 为 nil（单元测试 mock）时返回 nil
func (r *Repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	if r.db == nil {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Begin()
	return tx, tx.Error
}

// WithTx 返回绑定到事务连接的 Repository 副本
// tx 为 nil 时返回自身，mock 场景下各子仓库保持不变
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

// RunInTx 在单个事务内执行 fn，fn 返回错误或 panic 时整体回滚
func (r *Repository) RunInTx(ctx context.Context, fn func(txRepo *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}

// forUpdate 为查询追加 SELECT ... FOR UPDATE 行锁
// SQLite 不支持该子句，单连接本身已串行化写入
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

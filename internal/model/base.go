package model

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel 通用时间戳字段（所有业务模型嵌入）
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// AuditModel 管理员维护的数据附带操作人
type AuditModel struct {
	BaseModel
	CreatedBy *string `gorm:"type:uuid" json:"created_by,omitempty"`
	UpdatedBy *string `gorm:"type:uuid" json:"updated_by,omitempty"`
}

// VersionedModel 支持乐观锁的审计模型
type VersionedModel struct {
	AuditModel
	Version int `gorm:"not null;default:1" json:"version"`
}

// ensureID 主键为空时生成 UUID
// 主键在应用侧生成，PostgreSQL 与 SQLite 行为一致
func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// All 返回全部需要建表的模型（SQLite AutoMigrate 与测试使用）
func All() []interface{} {
	return []interface{}{
		&Course{},
		&User{},
		&Module{},
		&UserModuleSelection{},
		&Submission{},
		&Grade{},
		&Notification{},
	}
}

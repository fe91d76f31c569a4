package model

import (
	"time"

	"gorm.io/gorm"
)

// 用户角色
const (
	RoleReviewer = "reviewer"
	RoleStudent  = "student"
	RoleAdmin    = "admin"
)

// User 用户表（users）
// SelectedModuleID/SelectedAt 为选课台账中“当前激活”记录的冗余副本，由台账在同一事务内维护
type User struct {
	UserID           string     `gorm:"type:uuid;primaryKey"                        json:"user_id"`
	GoogleID         string     `gorm:"type:varchar(100);not null;uniqueIndex"      json:"-"`
	Email            string     `gorm:"type:varchar(255);not null;index"            json:"email"`
	Name             string     `gorm:"type:varchar(255)"                           json:"name"`
	PictureURL       string     `gorm:"type:varchar(500)"                           json:"picture_url"`
	Role             string     `gorm:"type:varchar(20);not null;default:'reviewer'" json:"role"`
	StudentNumber    string     `gorm:"type:varchar(50)"                            json:"student_number"`
	Cohort           string     `gorm:"type:varchar(50)"                            json:"cohort"`
	SelectedModuleID *string    `gorm:"type:uuid"                                   json:"selected_module_id,omitempty"`
	SelectedAt       *time.Time `                                                   json:"selected_at,omitempty"`
	AcceptedTermsAt  *time.Time `                                                   json:"accepted_terms_at,omitempty"`
	ReminderEnabled  bool       `gorm:"not null;default:true"                       json:"reminder_enabled"`
	LastReminderSent *time.Time `                                                   json:"last_reminder_sent,omitempty"`
	LastLoginAt      *time.Time `                                                   json:"last_login_at,omitempty"`
	BaseModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// BeforeCreate 生成主键
func (u *User) BeforeCreate(_ *gorm.DB) error {
	ensureID(&u.UserID)
	return nil
}

// DisplayName 通知文案中使用的称呼
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 通知类型
const (
	NotificationModuleSelected = "module_selected"
	NotificationSubmission     = "submission"
	NotificationPDFUpdated     = "pdf_updated"
	NotificationReminder       = "reminder"
	NotificationRemindersSent  = "reminders_sent"
)

// 通知渠道
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
)

// Notification 通知发送日志表（notifications）
// 仅记录已发出的通知，不做站内信
type Notification struct {
	NotificationID   string         `gorm:"type:uuid;primaryKey"       json:"notification_id"`
	RecipientEmail   string         `gorm:"type:varchar(255);not null" json:"recipient_email"`
	NotificationType string         `gorm:"type:varchar(50);not null"  json:"notification_type"`
	Channel          string         `gorm:"type:varchar(20);not null"  json:"channel"` // email | slack
	ModuleID         *string        `gorm:"type:uuid;index"            json:"module_id,omitempty"`
	Metadata         datatypes.JSON `                                  json:"metadata,omitempty"`
	SentAt           time.Time      `gorm:"not null"                   json:"sent_at"`
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }

// BeforeCreate 生成主键
func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	ensureID(&n.NotificationID)
	return nil
}

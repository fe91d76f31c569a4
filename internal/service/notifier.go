package service

import (
	"context"
	"time"

	"review-portal/backend/internal/dto"
)

// Notifier 通知出口：业务在事务提交后调用，发送失败只记录日志，不影响业务结果
type Notifier interface {
	ModuleSelected(ctx context.Context, ev ModuleSelectedEvent) error
	SubmissionReceived(ctx context.Context, ev SubmissionEvent) error
	PDFUpdated(ctx context.Context, ev PDFUpdatedEvent) error
	Reminder(ctx context.Context, ev ReminderEvent) error
	RemindersSent(ctx context.Context, ev RemindersSentEvent) error
}

// ModuleSelectedEvent 用户选中模块（新评审加入）
type ModuleSelectedEvent struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserEmail  string    `json:"user_email"`
	Role       string    `json:"role"`
	ModuleID   string    `json:"module_id"`
	ModuleName string    `json:"module_name"`
	SelectedAt time.Time `json:"selected_at"`
}

// SubmissionEvent 收到提交
type SubmissionEvent struct {
	SubmissionID      string         `json:"submission_id"`
	UserName          string         `json:"user_name"`
	UserEmail         string         `json:"user_email"`
	ModuleID          string         `json:"module_id"`
	ModuleName        string         `json:"module_name"`
	SubmissionType    string         `json:"submission_type"`
	GithubLink        string         `json:"github_link"`
	Comments          string         `json:"comments"`
	TimeSpentMinutes  *int           `json:"time_spent_minutes,omitempty"`
	FeedbackResponses map[string]int `json:"feedback_responses,omitempty"`
}

// PDFUpdatedEvent 模块资料更新，Recipients 为需提醒的持有人邮箱
type PDFUpdatedEvent struct {
	ModuleID   string   `json:"module_id"`
	ModuleName string   `json:"module_name"`
	Cursor     string   `json:"cursor"`
	Recipients []string `json:"recipients"`
}

// ReminderEvent 单个用户的每周提醒
type ReminderEvent struct {
	UserID    string            `json:"user_id"`
	UserName  string            `json:"user_name"`
	UserEmail string            `json:"user_email"`
	Items     []dto.PendingItem `json:"items"`
}

// RemindersSentEvent 每周提醒汇总
type RemindersSentEvent struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// NopNotifier 不发送任何通知（测试与未配置通知渠道时使用）
type NopNotifier struct{}

func (NopNotifier) ModuleSelected(context.Context, ModuleSelectedEvent) error { return nil }
func (NopNotifier) SubmissionReceived(context.Context, SubmissionEvent) error { return nil }
func (NopNotifier) PDFUpdated(context.Context, PDFUpdatedEvent) error { return nil }
func (NopNotifier) Reminder(context.Context, ReminderEvent) error { return nil }
func (NopNotifier) RemindersSent(context.Context, RemindersSentEvent) error { return nil }

// Cache 服务层使用的 JSON 缓存（由 pkg/redis.Client 实现）
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// 缓存键
const cacheKeyAdminStats = "admin:stats"

package dto

// ── 用户模块 DTO ──

// UserListRequest 用户列表查询参数
type UserListRequest struct {
	PaginationRequest
	Role    string `form:"role"    binding:"omitempty,oneof=reviewer student admin"`
	Keyword string `form:"keyword" binding:"omitempty,max=50"`
}

// AssignRoleRequest 修改角色请求
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=reviewer student admin"`
}

// ReminderSettingsRequest 提醒开关
type ReminderSettingsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ReminderSettingsResponse 提醒设置
type ReminderSettingsResponse struct {
	Enabled          bool   `json:"enabled"`
	LastReminderSent string `json:"last_reminder_sent,omitempty"`
}

package dto

// 待办项类型与状态
const (
	PendingKindPDFUpdate = "pdf_update"

	PendingNotSubmitted  = "not_submitted"
	PendingAwaitingGrade = "awaiting_grade"
	PendingNewVersion    = "new_version_available"
)

// PendingItem 单个待办项；Kind 为 in_class / homework / pdf_update
type PendingItem struct {
	ModuleID   string `json:"module_id"`
	ModuleName string `json:"module_name"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
}

// PendingWorkResponse 某用户的全部待办（管理端预览）
type PendingWorkResponse struct {
	UserID           string        `json:"user_id"`
	UserName         string        `json:"user_name"`
	UserEmail        string        `json:"user_email"`
	ReminderEnabled  bool          `json:"reminder_enabled"`
	LastReminderSent string        `json:"last_reminder_sent,omitempty"`
	Items            []PendingItem `json:"items"`
}

// ReminderRunResponse 一次提醒批次的结果
type ReminderRunResponse struct {
	Sent       int      `json:"sent"`
	Skipped    int      `json:"skipped"`
	Recipients []string `json:"recipients"`
}

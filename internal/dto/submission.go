package dto

// ── 提交模块请求 ──

// FeedbackRequest 评审反馈（1-10 分制评分 + 用时）
// 字段使用指针以区分“未填写”与非法值，由服务层给出逐项提示
type FeedbackRequest struct {
	QObjectives      *int   `json:"q_objectives"`
	QContent         *int   `json:"q_content"`
	QStarterCode     *int   `json:"q_starter_code"`
	QDifficulty      *int   `json:"q_difficulty"`
	QOverall         *int   `json:"q_overall"`
	TimeSpentMinutes *int   `json:"time_spent_minutes"`
	Comments         string `json:"comments" binding:"max=5000"`
}

// AssignmentRequest 学生作业提交
type AssignmentRequest struct {
	GithubLink string `json:"github_link"`
	Comments   string `json:"comments" binding:"max=5000"`
}

// AdminSubmissionListRequest 管理端提交列表查询
type AdminSubmissionListRequest struct {
	PaginationRequest
	ModuleID       string `form:"module_id"       binding:"omitempty,uuid"`
	SubmissionType string `form:"submission_type" binding:"omitempty,oneof=in_class homework"`
	GradeStatus    string `form:"grade_status"    binding:"omitempty,oneof=pending completed failed"`
}

// ── 提交模块响应 ──

// SubmissionResponse 提交记录
type SubmissionResponse struct {
	ID                string         `json:"id"`
	ModuleID          string         `json:"module_id"`
	ModuleName        string         `json:"module_name"`
	SubmissionType    string         `json:"submission_type"`
	GithubLink        string         `json:"github_link"`
	Comments          string         `json:"comments"`
	TimeSpentMinutes  *int           `json:"time_spent_minutes,omitempty"`
	FeedbackResponses map[string]int `json:"feedback_responses,omitempty"`
	SubmittedAt       string         `json:"submitted_at"`
	Status            string         `json:"status"`
	Grade             *GradeResponse `json:"grade,omitempty"`

	// 管理端列表附带
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

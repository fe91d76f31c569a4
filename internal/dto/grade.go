package dto

import "encoding/json"

// ── 成绩模块请求 ──

// ManualGradeRequest 管理员手动评分
type ManualGradeRequest struct {
	TotalPoints    *float64 `json:"total_points"    binding:"required,min=0"`
	ManualFeedback string   `json:"manual_feedback" binding:"max=10000"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
}

// ── 成绩模块响应 ──

// GradeResponse 成绩详情
type GradeResponse struct {
	SubmissionID      string          `json:"submission_id"`
	TotalPoints       *float64        `json:"total_points,omitempty"`
	MaxPoints         int             `json:"max_points"`
	Percentage        *float64        `json:"percentage,omitempty"`
	LetterGrade       string          `json:"letter_grade,omitempty"`
	ScoreBreakdown    json.RawMessage `json:"score_breakdown,omitempty"`
	AutomatedFeedback string          `json:"automated_feedback,omitempty"`
	ManualFeedback    string          `json:"manual_feedback,omitempty"`
	Strengths         []string        `json:"strengths"`
	Improvements      []string        `json:"improvements"`
	Status            string          `json:"status"`
	GradedAt          string          `json:"graded_at,omitempty"`
	GradedBy          string          `json:"graded_by,omitempty"`
	WorkflowRunID     *int64          `json:"workflow_run_id,omitempty"`
	WorkflowURL       string          `json:"workflow_url,omitempty"`
}

// GithubStatusResponse 最近一次 Autograding 运行状态
// Status 取值：not_found / no_access / no_workflow / queued / in_progress / completed
type GithubStatusResponse struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	RunID      int64  `json:"run_id,omitempty"`
	RunURL     string `json:"run_url,omitempty"`
	Message    string `json:"message,omitempty"`
}

// GradeAllResponse 批量刷新入队结果
type GradeAllResponse struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

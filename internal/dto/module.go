package dto

// ── 模块目录 DTO ──

// ModuleListRequest 模块列表查询参数
type ModuleListRequest struct {
	CourseID string `form:"course_id" binding:"omitempty,uuid"`
}

// CreateModuleRequest 创建模块请求
type CreateModuleRequest struct {
	CourseID             *string  `json:"course_id"              binding:"omitempty,uuid"`
	Name                 string   `json:"name"                   binding:"required,max=100"`
	WeekNumber           int      `json:"week_number"            binding:"required,min=1"`
	Visibility           string   `json:"visibility"             binding:"omitempty,oneof=draft pilot_review active archived"`
	ShortDescription     string   `json:"short_description"`
	DetailedDescription  string   `json:"detailed_description"`
	LearningObjectives   []string `json:"learning_objectives"`
	Prerequisites        []string `json:"prerequisites"`
	ExpectedOutcomes     string   `json:"expected_outcomes"`
	EstimatedTimeMinutes *int     `json:"estimated_time_minutes" binding:"omitempty,min=1"`
	DriveFileID          string   `json:"drive_file_id"          binding:"required,max=100"`
	GithubClassroomURL   string   `json:"github_classroom_url"   binding:"omitempty,url"`
	TemplateRepoURL      string   `json:"template_repo_url"      binding:"omitempty,url"`
	Instructions         string   `json:"instructions"`
	HomeworkInstructions string   `json:"homework_instructions"`
	AssignmentOverview   string   `json:"assignment_overview"`
	GradingCriteria      string   `json:"grading_criteria"`
	MaxPoints            *int     `json:"max_points"             binding:"omitempty,min=1"`
	MaxReviewers         *int     `json:"max_reviewers"          binding:"omitempty,min=0"`
	MaxStudents          *int     `json:"max_students"           binding:"omitempty,min=0"`
}

// UpdateModuleRequest 更新模块请求；Version 为客户端读取时的版本号
type UpdateModuleRequest struct {
	Version              int       `json:"version"                binding:"required,min=1"`
	CourseID             *string   `json:"course_id"              binding:"omitempty,uuid"`
	Name                 *string   `json:"name"                   binding:"omitempty,max=100"`
	WeekNumber           *int      `json:"week_number"            binding:"omitempty,min=1"`
	ShortDescription     *string   `json:"short_description"`
	DetailedDescription  *string   `json:"detailed_description"`
	LearningObjectives   *[]string `json:"learning_objectives"`
	Prerequisites        *[]string `json:"prerequisites"`
	ExpectedOutcomes     *string   `json:"expected_outcomes"`
	EstimatedTimeMinutes *int      `json:"estimated_time_minutes" binding:"omitempty,min=1"`
	DriveFileID          *string   `json:"drive_file_id"          binding:"omitempty,max=100"`
	GithubClassroomURL   *string   `json:"github_classroom_url"   binding:"omitempty,url"`
	TemplateRepoURL      *string   `json:"template_repo_url"      binding:"omitempty,url"`
	Instructions         *string   `json:"instructions"`
	HomeworkInstructions *string   `json:"homework_instructions"`
	AssignmentOverview   *string   `json:"assignment_overview"`
	GradingCriteria      *string   `json:"grading_criteria"`
	MaxPoints            *int      `json:"max_points"             binding:"omitempty,min=1"`
	MaxReviewers         *int      `json:"max_reviewers"          binding:"omitempty,min=0"`
	MaxStudents          *int      `json:"max_students"           binding:"omitempty,min=0"`

	// ClearMaxReviewers / ClearMaxStudents 置为不限容量
	ClearMaxReviewers bool `json:"clear_max_reviewers"`
	ClearMaxStudents  bool `json:"clear_max_students"`
}

// VisibilityRequest 修改可见性
type VisibilityRequest struct {
	Visibility string `json:"visibility" binding:"required,oneof=draft pilot_review active archived"`
}

// ModuleSummary 模块列表项
type ModuleSummary struct {
	ID               string `json:"id"`
	CourseID         string `json:"course_id,omitempty"`
	CourseName       string `json:"course_name,omitempty"`
	Name             string `json:"name"`
	WeekNumber       int    `json:"week_number"`
	Visibility       string `json:"visibility"`
	ShortDescription string `json:"short_description"`
	ReviewerCount    int64  `json:"reviewer_count"`
	StudentCount     int64  `json:"student_count"`
	MaxReviewers     *int   `json:"max_reviewers,omitempty"`
	MaxStudents      *int   `json:"max_students,omitempty"`
	IsSelected       bool   `json:"is_selected"`
	IsActive         bool   `json:"is_active"`
	AtCapacity       bool   `json:"at_capacity"`
}

// ModuleDetail 模块详情
type ModuleDetail struct {
	ModuleSummary
	DetailedDescription  string   `json:"detailed_description"`
	LearningObjectives   []string `json:"learning_objectives"`
	Prerequisites        []string `json:"prerequisites"`
	ExpectedOutcomes     string   `json:"expected_outcomes"`
	EstimatedTimeMinutes *int     `json:"estimated_time_minutes,omitempty"`
	GithubClassroomURL   string   `json:"github_classroom_url"`
	TemplateRepoURL      string   `json:"template_repo_url"`
	Instructions         string   `json:"instructions"`
	HomeworkInstructions string   `json:"homework_instructions"`
	AssignmentOverview   string   `json:"assignment_overview"`
	GradingCriteria      string   `json:"grading_criteria"`
	MaxPoints            int      `json:"max_points"`
	DriveFileID          string   `json:"drive_file_id,omitempty"` // 仅管理员可见
	DriveModifiedTime    string   `json:"drive_modified_time,omitempty"`
	PDFUpdated           bool     `json:"pdf_updated"`
	Version              int      `json:"version"`
}

// CheckUpdateResponse 资料更新检查结果
type CheckUpdateResponse struct {
	Updated         bool   `json:"updated"`
	PreviousCursor  string `json:"previous_cursor,omitempty"`
	CurrentCursor   string `json:"current_cursor"`
	NotifiedHolders int    `json:"notified_holders"`
}

// CheckAllUpdatesResponse 批量检查结果
type CheckAllUpdatesResponse struct {
	Checked int                            `json:"checked"`
	Updated int                            `json:"updated"`
	Results map[string]CheckUpdateResponse `json:"results"`
	Errors  map[string]string              `json:"errors,omitempty"`
}

package dto

// ── 评审工作台 ──

// DashboardSelection 持有模块及其两类提交状态
type DashboardSelection struct {
	SelectionResponse
	InClassStatus  string `json:"in_class_status"`
	HomeworkStatus string `json:"homework_status"`
}

// ReviewerDashboardResponse GET /dashboard
type ReviewerDashboardResponse struct {
	User       UserResponse         `json:"user"`
	MaxModules int                  `json:"max_modules"`
	Selections []DashboardSelection `json:"selections"`
}

// ── 学生工作台 ──

// StudentModuleItem 学生视角的单个模块
type StudentModuleItem struct {
	ModuleID         string `json:"module_id"`
	Name             string `json:"name"`
	WeekNumber       int    `json:"week_number"`
	ShortDescription string `json:"short_description"`
	Unlocked         bool   `json:"unlocked"`
	InClassStatus    string `json:"in_class_status"`
	HomeworkStatus   string `json:"homework_status"`
	Progress         int    `json:"progress"` // 已评分项数
	Total            int    `json:"total"`
}

// StudentCourseItem 一门进行中的课程
type StudentCourseItem struct {
	Course  CourseResponse      `json:"course"`
	Modules []StudentModuleItem `json:"modules"`
}

// StudentDashboardResponse GET /dashboard/student
type StudentDashboardResponse struct {
	Courses []StudentCourseItem `json:"courses"`
}

// ── 管理端统计 ──

// ModuleHolderStats 单模块持有人数
type ModuleHolderStats struct {
	ModuleID        string `json:"module_id"`
	Name            string `json:"name"`
	Visibility      string `json:"visibility"`
	ReviewerCount   int64  `json:"reviewer_count"`
	StudentCount    int64  `json:"student_count"`
	MaxReviewers    *int   `json:"max_reviewers,omitempty"`
	MaxStudents     *int   `json:"max_students,omitempty"`
	SubmissionCount int64  `json:"submission_count"`
}

// AdminStatsResponse GET /admin/stats
type AdminStatsResponse struct {
	TotalUsers        int64                `json:"total_users"`
	UsersByRole       map[string]int64     `json:"users_by_role"`
	TotalModules      int64                `json:"total_modules"`
	ActiveModules     int64                `json:"active_modules"`
	TotalSubmissions  int64                `json:"total_submissions"`
	GradedSubmissions int64                `json:"graded_submissions"`
	Modules           []ModuleHolderStats  `json:"modules"`
	RecentSubmissions []SubmissionResponse `json:"recent_submissions"`
	GeneratedAt       string               `json:"generated_at"`
}

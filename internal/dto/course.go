package dto

// ── 课程模块 DTO ──

// CreateCourseRequest 创建课程请求
type CreateCourseRequest struct {
	Name            string `json:"name"             binding:"required,max=200"`
	Code            string `json:"code"             binding:"required,max=50"`
	Description     string `json:"description"`
	InstructorName  string `json:"instructor_name"  binding:"omitempty,max=200"`
	InstructorEmail string `json:"instructor_email" binding:"omitempty,email"`
	Term            string `json:"term"             binding:"omitempty,max=50"`
	StartDate       string `json:"start_date"       binding:"omitempty,datetime=2006-01-02"`
	IsActive        *bool  `json:"is_active"`
}

// UpdateCourseRequest 更新课程请求（字段均可选）
type UpdateCourseRequest struct {
	Name            *string `json:"name"             binding:"omitempty,max=200"`
	Code            *string `json:"code"             binding:"omitempty,max=50"`
	Description     *string `json:"description"`
	InstructorName  *string `json:"instructor_name"  binding:"omitempty,max=200"`
	InstructorEmail *string `json:"instructor_email" binding:"omitempty,email"`
	Term            *string `json:"term"             binding:"omitempty,max=50"`
	StartDate       *string `json:"start_date"` // 空字符串表示清除开课日期
	IsActive        *bool   `json:"is_active"`
}

// CourseResponse 课程响应
type CourseResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Code            string `json:"code"`
	Description     string `json:"description"`
	InstructorName  string `json:"instructor_name"`
	InstructorEmail string `json:"instructor_email"`
	Term            string `json:"term"`
	StartDate       string `json:"start_date,omitempty"`
	IsActive        bool   `json:"is_active"`
	CurrentWeek     int    `json:"current_week"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

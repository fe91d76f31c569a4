package dto

// ── 认证模块响应 ──

// TokenResponse Token 对响应
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"` // Cookie 模式下可不返回
	ExpiresIn    int          `json:"expires_in"`              // Access Token 有效期（秒）
	User         UserResponse `json:"user"`
}

// ── 用户模块响应 ──

// UserResponse 用户信息响应
type UserResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	PictureURL       string  `json:"picture_url,omitempty"`
	Role             string  `json:"role"`
	StudentNumber    string  `json:"student_number,omitempty"`
	Cohort           string  `json:"cohort,omitempty"`
	AcceptedTerms    bool    `json:"accepted_terms"`
	ReminderEnabled  bool    `json:"reminder_enabled"`
	SelectedModuleID *string `json:"selected_module_id,omitempty"`
}

// UserDetailResponse 当前用户详情（GET /auth/me）
type UserDetailResponse struct {
	UserResponse
	ActiveSelection *SelectionResponse  `json:"active_selection,omitempty"`
	Selections      []SelectionResponse `json:"selections"`
	MaxModules      int                 `json:"max_modules"`
	AcceptedTermsAt string              `json:"accepted_terms_at,omitempty"`
	LastLoginAt     string              `json:"last_login_at,omitempty"`
	CreatedAt       string              `json:"created_at"`
}

// ── 分页请求 ──

// PaginationRequest 通用分页参数
type PaginationRequest struct {
	Page     int `form:"page"      binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// GetPage 获取页码（含默认值）
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页数量（含默认值）
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}

// GetOffset 计算偏移量
func (p *PaginationRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// 时间格式
const (
	TimeLayout = "2006-01-02T15:04:05Z07:00"
	DateLayout = "2006-01-02"
)

package dto

// ── 认证模块 DTO ──

// RefreshTokenRequest 刷新 Token 请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"` // 非 Cookie 模式时使用
}

// OAuthProfile OAuth 回调得到的身份信息
type OAuthProfile struct {
	GoogleID   string
	Email      string
	Name       string
	PictureURL string
}

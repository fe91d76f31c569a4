package oauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"go.uber.org/zap"

	"review-portal/backend/config"
)

const providerName = "google"

// ErrNotConfigured 未配置 Google 凭据
var ErrNotConfigured = errors.New("google login is not configured")

// Profile Google 返回的身份信息
type Profile struct {
	GoogleID   string
	Email      string
	Name       string
	PictureURL string
}

// Google 基于 goth 的 Google 登录
// gothic 使用独立的 gorilla/sessions Cookie 保存 state
type Google struct {
	enabled bool
}

// NewGoogle 注册 goth provider 并配置 gothic 的会话存储
func NewGoogle(cfg *config.Config, logger *zap.Logger) *Google {
	store := sessions.NewCookieStore([]byte(cfg.OAuth.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   cfg.Auth.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	gothic.Store = store

	if cfg.OAuth.GoogleClientID == "" {
		logger.Warn("未配置 Google OAuth 凭据，登录不可用")
		return &Google{}
	}

	goth.UseProviders(google.New(
		cfg.OAuth.GoogleClientID,
		cfg.OAuth.GoogleClientSecret,
		cfg.OAuth.GoogleCallbackURL,
		"email",
		"profile",
	))
	logger.Info("Google OAuth 已启用")
	return &Google{enabled: true}
}

// Begin 跳转到 Google 授权页
func (g *Google) Begin(w http.ResponseWriter, r *http.Request) error {
	if !g.enabled {
		return ErrNotConfigured
	}
	gothic.BeginAuthHandler(w, withProvider(r))
	return nil
}

// Complete 处理回调并返回身份信息
func (g *Google) Complete(w http.ResponseWriter, r *http.Request) (*Profile, error) {
	if !g.enabled {
		return nil, ErrNotConfigured
	}
	user, err := gothic.CompleteUserAuth(w, withProvider(r))
	if err != nil {
		return nil, err
	}
	// 回调结束后清理 gothic 会话
	_ = gothic.Logout(w, r)

	return &Profile{
		GoogleID:   user.UserID,
		Email:      strings.ToLower(user.Email),
		Name:       user.Name,
		PictureURL: user.AvatarURL,
	}, nil
}

// gothic 通过 provider 查询参数选择 provider
func withProvider(r *http.Request) *http.Request {
	q := r.URL.Query()
	q.Set("provider", providerName)
	r.URL.RawQuery = q.Encode()
	return r
}

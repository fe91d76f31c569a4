package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/jwt"
	"review-portal/backend/pkg/oauth"
	"review-portal/backend/pkg/response"
)

// OAuthGateway 第三方登录（由 pkg/oauth.Google 实现）
type OAuthGateway interface {
	Begin(w http.ResponseWriter, r *http.Request) error
	Complete(w http.ResponseWriter, r *http.Request) (*oauth.Profile, error)
}

// AuthHandler 认证模块 HTTP 处理器
type AuthHandler struct {
	authSvc     service.AuthService
	oauth       OAuthGateway
	cookie      config.CookieConfig
	accessTTL   time.Duration
	refreshTTL  time.Duration
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(cfg *config.Config, authSvc service.AuthService, gateway OAuthGateway, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authSvc:     authSvc,
		oauth:       gateway,
		cookie:      cfg.Auth.Cookie,
		accessTTL:   cfg.Auth.AccessTokenTTL,
		refreshTTL:  cfg.Auth.RefreshTokenTTL,
		frontendURL: strings.TrimRight(cfg.Server.FrontendURL, "/"),
		logger:      logger,
	}
}

// GoogleLogin 跳转到 Google 授权页
// GET /api/v1/auth/google
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if err := h.oauth.Begin(c.Writer, c.Request); err != nil {
		response.Error(c, http.StatusServiceUnavailable, 11003, "Google login is not configured")
	}
}

// GoogleCallback 完成授权，签发 Token 并写入 Cookie
// GET /api/v1/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	profile, err := h.oauth.Complete(c.Writer, c.Request)
	if err != nil {
		h.logger.Warn("OAuth 回调失败", zap.Error(err))
		h.failLogin(c, "auth_failed")
		return
	}

	tokens, err := h.authSvc.LoginWithOAuth(c.Request.Context(), &dto.OAuthProfile{
		GoogleID:   profile.GoogleID,
		Email:      profile.Email,
		Name:       profile.Name,
		PictureURL: profile.PictureURL,
	})
	if err != nil {
		h.failLogin(c, "login_failed")
		return
	}

	h.setTokenCookies(c, tokens)
	if h.frontendURL == "" {
		response.OK(c, tokens)
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/dashboard")
}

func (h *AuthHandler) failLogin(c *gin.Context, reason string) {
	if h.frontendURL == "" {
		response.Unauthorized(c, 11002, "Login failed")
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+reason)
}

// RefreshToken 刷新 Token（Cookie 或请求体）
// POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, _ := c.Cookie(jwt.CookieRefreshToken)
	if token == "" {
		var req dto.RefreshTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			response.BadRequest(c, 10001, "refresh_token is required")
			return
		}
		token = req.RefreshToken
	}

	tokens, err := h.authSvc.Refresh(c.Request.Context(), token)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	h.setTokenCookies(c, tokens)
	response.OK(c, tokens)
}

// Logout 用户登出：access/refresh token 加入黑名单并清除 Cookie
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	jti, exp := tokenMeta(c)
	refresh, _ := c.Cookie(jwt.CookieRefreshToken)

	if err := h.authSvc.Logout(c.Request.Context(), jti, exp, refresh); err != nil {
		response.InternalError(c)
		return
	}

	h.clearTokenCookies(c)
	response.OK(c, nil)
}

// GetCurrentUser 当前用户信息（含选课台账）
// GET /api/v1/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	user, err := h.authSvc.Me(c.Request.Context(), userID)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	response.OK(c, user)
}

func (h *AuthHandler) handleAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRefreshToken):
		response.Unauthorized(c, 11001, "Invalid or expired refresh token")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, 12001, "User not found")
	default:
		response.InternalError(c)
	}
}

// ── Cookie ──

func (h *AuthHandler) setTokenCookies(c *gin.Context, tokens *dto.TokenResponse) {
	c.SetSameSite(sameSite(h.cookie.SameSite))
	c.SetCookie(jwt.CookieAccessToken, tokens.AccessToken, int(h.accessTTL.Seconds()), "/", h.cookie.Domain, h.cookie.Secure, true)
	if tokens.RefreshToken != "" {
		c.SetCookie(jwt.CookieRefreshToken, tokens.RefreshToken, int(h.refreshTTL.Seconds()), "/api/v1/auth", h.cookie.Domain, h.cookie.Secure, true)
	}
}

func (h *AuthHandler) clearTokenCookies(c *gin.Context) {
	c.SetSameSite(sameSite(h.cookie.SameSite))
	c.SetCookie(jwt.CookieAccessToken, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
	c.SetCookie(jwt.CookieRefreshToken, "", -1, "/api/v1/auth", h.cookie.Domain, h.cookie.Secure, true)
}

func sameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

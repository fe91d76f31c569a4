package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/api/middleware"
	"review-portal/backend/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	s := c.GetString(middleware.CtxUserID)
	if s == "" {
		response.Unauthorized(c, 10002, "Not authenticated")
		return "", false
	}
	return s, true
}

// MustGetCaller 同时提取 user_id 与 role
func MustGetCaller(c *gin.Context) (userID, role string, ok bool) {
	userID = c.GetString(middleware.CtxUserID)
	role = c.GetString(middleware.CtxRole)
	if userID == "" || role == "" {
		response.Unauthorized(c, 10002, "Not authenticated")
		return "", "", false
	}
	return userID, role, true
}

// MustGetEmail 提取当前用户邮箱（人工评分记录评分人）
func MustGetEmail(c *gin.Context) (string, bool) {
	s := c.GetString(middleware.CtxEmail)
	if s == "" {
		response.Unauthorized(c, 10002, "Not authenticated")
		return "", false
	}
	return s, true
}

// tokenMeta 当前 access token 的 jti 与过期时间
func tokenMeta(c *gin.Context) (string, time.Time) {
	var exp time.Time
	if v, ok := c.Get(middleware.CtxTokenExp); ok {
		exp, _ = v.(time.Time)
	}
	return c.GetString(middleware.CtxTokenJTI), exp
}

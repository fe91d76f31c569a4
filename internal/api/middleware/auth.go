package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"review-portal/backend/internal/model"
	"review-portal/backend/pkg/jwt"
	"review-portal/backend/pkg/response"
)

// 上下文键
const (
	CtxUserID   = "user_id"
	CtxRole     = "role"
	CtxEmail    = "email"
	CtxTokenJTI = "token_jti"
	CtxTokenExp = "token_exp"
)

// TokenChecker Token 黑名单查询（由 pkg/redis.Client 实现）
type TokenChecker interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// TermsChecker 条款确认查询（由 service.UserService 实现）
type TermsChecker interface {
	HasAcceptedTerms(ctx context.Context, userID string) (bool, error)
}

// JWTAuth JWT 认证中间件
// 优先读取 Authorization: Bearer <token>，浏览器客户端回退到 access_token Cookie
// blacklist 为 nil 时跳过黑名单检查
func JWTAuth(jwtMgr *jwt.Manager, blacklist TokenChecker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, 10002, "Not authenticated")
			c.Abort()
			return
		}

		claims, err := jwtMgr.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, 10002, "Token is invalid or expired")
			c.Abort()
			return
		}

		if claims.TokenType != jwt.TokenTypeAccess {
			response.Unauthorized(c, 10002, "Invalid token type")
			c.Abort()
			return
		}

		if blacklist != nil {
			revoked, err := blacklist.IsBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				// Redis 故障时放行，避免整体不可用
				logger.Warn("查询 Token 黑名单失败，降级放行", zap.Error(err))
			} else if revoked {
				response.Unauthorized(c, 10002, "Token has been revoked")
				c.Abort()
				return
			}
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxEmail, claims.Email)
		c.Set(CtxTokenJTI, claims.ID)
		if claims.ExpiresAt != nil {
			c.Set(CtxTokenExp, claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookie, err := c.Cookie(jwt.CookieAccessToken); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// RoleAuth 角色权限中间件
// 检查当前用户是否具有指定角色之一
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		if role == "" {
			response.Unauthorized(c, 10002, "Not authenticated")
			c.Abort()
			return
		}

		for _, r := range allowedRoles {
			if role == r {
				c.Next()
				return
			}
		}

		response.Forbidden(c, 10003, "Admin access required")
		c.Abort()
	}
}

// TermsAccepted 未确认使用条款的非管理员用户不可访问模块与提交接口
func TermsAccepted(checker TermsChecker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRole) == model.RoleAdmin {
			c.Next()
			return
		}

		accepted, err := checker.HasAcceptedTerms(c.Request.Context(), c.GetString(CtxUserID))
		if err != nil {
			logger.Error("查询条款确认状态失败", zap.String("user_id", c.GetString(CtxUserID)), zap.Error(err))
			response.InternalError(c)
			c.Abort()
			return
		}
		if !accepted {
			response.Forbidden(c, 12003, "Please accept the terms before continuing")
			c.Abort()
			return
		}

		c.Next()
	}
}

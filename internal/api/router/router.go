package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/api/handler"
	"review-portal/backend/internal/api/middleware"
	"review-portal/backend/internal/model"
	"review-portal/backend/pkg/jwt"
)

// 请求体上限（JSON API，无文件上传）
const maxBodyBytes = 1 << 20

// Deps 路由层依赖；Blacklist / Limiter 为 nil 时对应功能降级关闭
type Deps struct {
	Blacklist middleware.TokenChecker
	Limiter   middleware.RateLimiter
	Terms     middleware.TermsChecker
	// Ping 就绪检查（数据库）
	Ping func(ctx context.Context) error
}

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, deps Deps, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(middleware.AccessLog(logger))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	admin := middleware.RoleAuth(model.RoleAdmin)
	terms := middleware.TermsAccepted(deps.Terms, logger)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit(deps.Limiter, 20, time.Minute))
		{
			auth.GET("/google", h.Auth.GoogleLogin)
			auth.GET("/google/callback", h.Auth.GoogleCallback)
			auth.POST("/refresh", h.Auth.RefreshToken)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, deps.Blacklist, logger))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.GetCurrentUser)

			// 用户自身设置（不要求已确认条款）
			users := authorized.Group("/users/me")
			{
				users.GET("", h.User.GetCurrentUser)
				users.POST("/accept-terms", h.User.AcceptTerms)
				users.GET("/reminders", h.User.GetReminderSettings)
				users.PUT("/reminders", h.User.UpdateReminderSettings)
			}

			// 课程
			courses := authorized.Group("/courses")
			{
				courses.GET("", h.Course.ListCourses)
				courses.GET("/:id", h.Course.GetCourse)
				courses.GET("/:id/calendar.ics", h.Course.Calendar)
			}

			// 以下路由要求非管理员用户已确认条款
			member := authorized.Group("")
			member.Use(terms)
			{
				// 模块目录与选课台账
				modules := member.Group("/modules")
				{
					modules.GET("", h.Module.ListModules)
					modules.GET("/:id", h.Module.GetModule)
					modules.GET("/:id/pdf", h.Module.ViewPDF)
					modules.GET("/:id/pdf/download", h.Module.DownloadPDF)

					ledger := middleware.RateLimit(deps.Limiter, 30, time.Minute)
					modules.POST("/swap", ledger, h.Selection.Swap)
					modules.POST("/:id/select", ledger, h.Selection.Select)
					modules.POST("/:id/switch", ledger, h.Selection.Switch)
					modules.POST("/:id/release", ledger, h.Selection.Release)
				}
				member.GET("/selections/me", h.Selection.ListMine)

				// 提交与成绩
				submissions := member.Group("/submissions")
				{
					submissions.GET("/me", h.Submission.ListMine)
					submissions.POST("/feedback/:type", h.Submission.SubmitFeedback)
					submissions.POST("/modules/:id/:type", h.Submission.SubmitAssignment)
					submissions.GET("/:id/grade", h.Grade.GetGrade)
					submissions.GET("/:id/github-status", h.Grade.GithubStatus)
					submissions.POST("/:id/refresh-grade", h.Grade.RefreshGrade)
					submissions.POST("/:id/regrade", h.Grade.Regrade)
				}
				member.GET("/grades/me", h.Grade.ListMine)

				// 仪表盘
				member.GET("/dashboard", h.Dashboard.Reviewer)
				member.GET("/dashboard/student", h.Dashboard.Student)
			}

			// 管理员
			adm := authorized.Group("/admin")
			adm.Use(admin)
			{
				adm.GET("/stats", h.Dashboard.AdminStats)

				adm.GET("/users", h.User.ListUsers)
				adm.PUT("/users/:id/role", h.User.AssignRole)

				adm.POST("/courses", h.Course.CreateCourse)
				adm.PUT("/courses/:id", h.Course.UpdateCourse)
				adm.DELETE("/courses/:id", h.Course.DeleteCourse)

				adm.POST("/modules", h.Module.CreateModule)
				adm.POST("/modules/check-updates", h.Module.CheckAllUpdates)
				adm.PUT("/modules/:id", h.Module.UpdateModule)
				adm.PUT("/modules/:id/visibility", h.Module.SetVisibility)
				adm.POST("/modules/:id/archive", h.Module.ArchiveModule)
				adm.DELETE("/modules/:id", h.Module.DeleteModule)
				adm.POST("/modules/:id/check-update", h.Module.CheckUpdate)
				adm.POST("/modules/:id/grade-all", h.Module.GradeAll)

				adm.GET("/submissions", h.Submission.AdminList)
				adm.GET("/submissions/export", h.Export.ExportSubmissions)
				adm.POST("/submissions/:id/manual-grade", h.Grade.ManualGrade)

				adm.GET("/reminders/pending", h.Reminder.Pending)
				adm.POST("/reminders/send-now", h.Reminder.SendNow)
			}
		}
	}

	return r
}

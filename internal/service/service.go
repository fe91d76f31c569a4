package service

import (
	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/policy"
	"review-portal/backend/internal/repository"
	"review-portal/backend/pkg/jwt"
)

// Deps 外部依赖；未配置的依赖保持 nil，对应功能降级
type Deps struct {
	Blacklist   TokenBlacklist
	Cache       Cache
	Notifier    Notifier
	Drive       DriveSource
	GradeSource GradeSource
	GradeQueue  GradeQueue
}

// Service 所有 Service 的聚合入口
type Service struct {
	Auth       AuthService
	User       UserService
	Course     CourseService
	Module     ModuleService
	Selection  SelectionService
	Submission SubmissionService
	Grade      GradeService
	Reminder   ReminderService
	Dashboard  DashboardService
	Export     ExportService
	Calendar   CalendarService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	deps Deps,
	logger *zap.Logger,
) *Service {
	limits := policy.Limits(cfg.Selection.MaxModules)
	return &Service{
		Auth:   NewAuthService(cfg, repo, jwtMgr, deps.Blacklist, logger),
		User:   NewUserService(repo, logger),
		Course: NewCourseService(repo, logger),
		Module: NewModuleService(repo, deps.Drive, deps.Notifier, deps.Cache, logger),
		Selection: NewSelectionService(repo, SelectionConfig{
			Limits:        limits,
			ReleasePolicy: cfg.Selection.ReleasePolicy,
		}, deps.Notifier, deps.Cache, logger),
		Submission: NewSubmissionService(repo, deps.Notifier, deps.Cache, logger),
		Grade:      NewGradeService(repo, deps.GradeSource, deps.GradeQueue, deps.Cache, logger),
		Reminder:   NewReminderService(repo, deps.Notifier, logger),
		Dashboard:  NewDashboardService(repo, limits, deps.Cache, logger),
		Export:     NewExportService(repo, logger),
		Calendar:   NewCalendarService(repo, cfg.Server.BaseURL, logger),
	}
}

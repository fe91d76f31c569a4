package handler

import (
	"go.uber.org/zap"

	"review-portal/backend/config"
	"review-portal/backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth       *AuthHandler
	User       *UserHandler
	Course     *CourseHandler
	Module     *ModuleHandler
	Selection  *SelectionHandler
	Submission *SubmissionHandler
	Grade      *GradeHandler
	Dashboard  *DashboardHandler
	Reminder   *ReminderHandler
	Export     *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(cfg *config.Config, svc *service.Service, gateway OAuthGateway, logger *zap.Logger) *Handler {
	return &Handler{
		Auth:       NewAuthHandler(cfg, svc.Auth, gateway, logger),
		User:       NewUserHandler(svc.User),
		Course:     NewCourseHandler(svc.Course, svc.Calendar),
		Module:     NewModuleHandler(svc.Module, svc.Grade),
		Selection:  NewSelectionHandler(svc.Selection),
		Submission: NewSubmissionHandler(svc.Submission),
		Grade:      NewGradeHandler(svc.Grade),
		Dashboard:  NewDashboardHandler(svc.Dashboard),
		Reminder:   NewReminderHandler(svc.Reminder),
		Export:     NewExportHandler(svc.Export),
	}
}

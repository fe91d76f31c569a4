package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// DashboardHandler 仪表盘 HTTP 处理器
type DashboardHandler struct {
	dashboardSvc service.DashboardService
}

// NewDashboardHandler 创建 DashboardHandler
func NewDashboardHandler(dashboardSvc service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardSvc: dashboardSvc}
}

// Reviewer 评审仪表盘
// GET /api/v1/dashboard
func (h *DashboardHandler) Reviewer(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	res, err := h.dashboardSvc.Reviewer(c.Request.Context(), userID)
	if err != nil {
		h.handleDashboardError(c, err)
		return
	}

	response.OK(c, res)
}

// Student 学生仪表盘
// GET /api/v1/dashboard/student
func (h *DashboardHandler) Student(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	res, err := h.dashboardSvc.Student(c.Request.Context(), userID)
	if err != nil {
		h.handleDashboardError(c, err)
		return
	}

	response.OK(c, res)
}

// AdminStats 管理员统计
// GET /api/v1/admin/stats
func (h *DashboardHandler) AdminStats(c *gin.Context) {
	res, err := h.dashboardSvc.AdminStats(c.Request.Context())
	if err != nil {
		h.handleDashboardError(c, err)
		return
	}

	response.OK(c, res)
}

func (h *DashboardHandler) handleDashboardError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		response.NotFound(c, 12001, "User not found")
		return
	}
	response.InternalError(c)
}

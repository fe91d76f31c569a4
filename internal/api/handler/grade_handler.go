package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// GradeHandler 成绩模块 HTTP 处理器
type GradeHandler struct {
	gradeSvc service.GradeService
}

// NewGradeHandler 创建 GradeHandler
func NewGradeHandler(gradeSvc service.GradeService) *GradeHandler {
	return &GradeHandler{gradeSvc: gradeSvc}
}

// GetGrade 提交的成绩（本人或管理员）
// GET /api/v1/submissions/:id/grade
func (h *GradeHandler) GetGrade(c *gin.Context) {
	h.withCaller(c, h.gradeSvc.Get)
}

// RefreshGrade 从 GitHub Actions 拉取最新评分报告
// POST /api/v1/submissions/:id/refresh-grade
func (h *GradeHandler) RefreshGrade(c *gin.Context) {
	h.withCaller(c, h.gradeSvc.Refresh)
}

// Regrade 触发评分工作流并排队刷新
// POST /api/v1/submissions/:id/regrade
func (h *GradeHandler) Regrade(c *gin.Context) {
	h.withCaller(c, h.gradeSvc.Regrade)
}

func (h *GradeHandler) withCaller(c *gin.Context, fn func(ctx context.Context, callerID, role, submissionID string) (*dto.GradeResponse, error)) {
	userID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	grade, err := fn(c.Request.Context(), userID, role, c.Param("id"))
	if err != nil {
		handleGradeError(c, err)
		return
	}

	response.OK(c, grade)
}

// GithubStatus 最近一次评分工作流状态
// GET /api/v1/submissions/:id/github-status
func (h *GradeHandler) GithubStatus(c *gin.Context) {
	userID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	status, err := h.gradeSvc.GithubStatus(c.Request.Context(), userID, role, c.Param("id"))
	if err != nil {
		handleGradeError(c, err)
		return
	}

	response.OK(c, status)
}

// ListMine 我的成绩
// GET /api/v1/grades/me
func (h *GradeHandler) ListMine(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.gradeSvc.ListMine(c.Request.Context(), userID)
	if err != nil {
		handleGradeError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

// ManualGrade 人工评分
// POST /api/v1/admin/submissions/:id/manual-grade
func (h *GradeHandler) ManualGrade(c *gin.Context) {
	var req dto.ManualGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "total_points is required")
		return
	}

	email, ok := MustGetEmail(c)
	if !ok {
		return
	}

	grade, err := h.gradeSvc.ManualGrade(c.Request.Context(), c.Param("id"), &req, email)
	if err != nil {
		handleGradeError(c, err)
		return
	}

	response.OK(c, grade)
}

func handleGradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		response.NotFound(c, 15007, err.Error())
	case errors.Is(err, service.ErrSubmissionForbidden):
		response.Forbidden(c, 15008, err.Error())
	case errors.Is(err, service.ErrGradeNotFound):
		response.NotFound(c, 16001, err.Error())
	case errors.Is(err, service.ErrNotGradable):
		response.BadRequest(c, 16002, err.Error())
	case errors.Is(err, service.ErrGradeReportNotReady):
		response.NotFound(c, 16003, err.Error())
	case errors.Is(err, service.ErrRepoInaccessible):
		response.BadRequest(c, 16004, err.Error())
	case errors.Is(err, service.ErrGradingUnavailable):
		response.Error(c, http.StatusServiceUnavailable, 16005, err.Error())
	case errors.Is(err, service.ErrInvalidPoints):
		response.BadRequest(c, 16006, err.Error())
	case errors.Is(err, service.ErrRegradeTriggerFailure):
		response.Error(c, http.StatusBadGateway, 16007, err.Error())
	default:
		response.InternalError(c)
	}
}

package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// SubmissionHandler 提交模块 HTTP 处理器
type SubmissionHandler struct {
	submissionSvc service.SubmissionService
}

// NewSubmissionHandler 创建 SubmissionHandler
func NewSubmissionHandler(submissionSvc service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionSvc: submissionSvc}
}

// SubmitFeedback 评审提交当前激活模块的反馈
// POST /api/v1/submissions/feedback/:type
func (h *SubmissionHandler) SubmitFeedback(c *gin.Context) {
	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid feedback payload")
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	sub, err := h.submissionSvc.SubmitFeedback(c.Request.Context(), userID, c.Param("type"), &req)
	if err != nil {
		handleSubmissionError(c, err)
		return
	}

	response.OK(c, sub)
}

// SubmitAssignment 学生提交作业仓库
// POST /api/v1/submissions/modules/:id/:type
func (h *SubmissionHandler) SubmitAssignment(c *gin.Context) {
	var req dto.AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid submission payload")
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	sub, err := h.submissionSvc.SubmitAssignment(c.Request.Context(), userID, c.Param("id"), c.Param("type"), &req)
	if err != nil {
		handleSubmissionError(c, err)
		return
	}

	response.OK(c, sub)
}

// ListMine 我的提交
// GET /api/v1/submissions/me
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.submissionSvc.ListMine(c.Request.Context(), userID)
	if err != nil {
		handleSubmissionError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

// AdminList 提交列表（管理员，分页筛选）
// GET /api/v1/admin/submissions
func (h *SubmissionHandler) AdminList(c *gin.Context) {
	var req dto.AdminSubmissionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid query parameters")
		return
	}

	list, total, err := h.submissionSvc.AdminList(c.Request.Context(), &req)
	if err != nil {
		handleSubmissionError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

func handleSubmissionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSubmissionType):
		response.BadRequest(c, 15001, err.Error())
	case errors.Is(err, service.ErrNoActiveModule):
		response.BadRequest(c, 15002, err.Error())
	case errors.Is(err, service.ErrGithubLinkRequired):
		response.BadRequest(c, 15003, err.Error())
	case errors.Is(err, service.ErrInvalidGithubLink):
		response.BadRequest(c, 15004, err.Error())
	case errors.Is(err, service.ErrModuleUnavailable):
		response.BadRequest(c, 15005, err.Error())
	case errors.Is(err, service.ErrModuleLocked):
		response.Forbidden(c, 15006, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		response.NotFound(c, 15007, err.Error())
	case errors.Is(err, service.ErrSubmissionForbidden):
		response.Forbidden(c, 15008, err.Error())
	case errors.Is(err, service.ErrInvalidFeedback):
		response.BadRequest(c, 15009, err.Error())
	case errors.Is(err, service.ErrModuleNotFound):
		response.NotFound(c, 14001, "Module not found")
	default:
		response.InternalError(c)
	}
}

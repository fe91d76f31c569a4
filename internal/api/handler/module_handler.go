package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/service"
	pkgerrors "review-portal/backend/pkg/errors"
	"review-portal/backend/pkg/response"
)

// ModuleHandler 模块目录 HTTP 处理器
type ModuleHandler struct {
	moduleSvc service.ModuleService
	gradeSvc  service.GradeService
}

// NewModuleHandler 创建 ModuleHandler
func NewModuleHandler(moduleSvc service.ModuleService, gradeSvc service.GradeService) *ModuleHandler {
	return &ModuleHandler{moduleSvc: moduleSvc, gradeSvc: gradeSvc}
}

// ListModules 当前角色可见的模块列表
// GET /api/v1/modules
func (h *ModuleHandler) ListModules(c *gin.Context) {
	var req dto.ModuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid query parameters")
		return
	}

	userID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	modules, err := h.moduleSvc.List(c.Request.Context(), userID, role, &req)
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, gin.H{"list": modules})
}

// GetModule 模块详情
// GET /api/v1/modules/:id
func (h *ModuleHandler) GetModule(c *gin.Context) {
	userID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	module, err := h.moduleSvc.Get(c.Request.Context(), userID, role, c.Param("id"))
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, module)
}

// ViewPDF 在线预览模块资料
// GET /api/v1/modules/:id/pdf
func (h *ModuleHandler) ViewPDF(c *gin.Context) {
	h.streamPDF(c, false)
}

// DownloadPDF 下载模块资料，同时更新持有人的版本游标
// GET /api/v1/modules/:id/pdf/download
func (h *ModuleHandler) DownloadPDF(c *gin.Context) {
	h.streamPDF(c, true)
}

func (h *ModuleHandler) streamPDF(c *gin.Context, download bool) {
	userID, role, ok := MustGetCaller(c)
	if !ok {
		return
	}

	stream, err := h.moduleSvc.OpenPDF(c.Request.Context(), userID, role, c.Param("id"), download)
	if err != nil {
		handleModuleError(c, err)
		return
	}
	defer stream.Body.Close()

	disposition := "inline"
	if download {
		disposition = "attachment"
	}
	c.DataFromReader(http.StatusOK, stream.Size, "application/pdf", stream.Body, map[string]string{
		"Content-Disposition": disposition + "; filename*=UTF-8''" + url.QueryEscape(stream.FileName),
		"Cache-Control":       "private, no-store",
	})
}

// CreateModule 创建模块
// POST /api/v1/admin/modules
func (h *ModuleHandler) CreateModule(c *gin.Context) {
	var req dto.CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid module payload")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	module, err := h.moduleSvc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.Created(c, module)
}

// UpdateModule 更新模块（乐观锁）
// PUT /api/v1/admin/modules/:id
func (h *ModuleHandler) UpdateModule(c *gin.Context) {
	var req dto.UpdateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid module payload")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	module, err := h.moduleSvc.Update(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, module)
}

// SetVisibility 修改模块可见性
// PUT /api/v1/admin/modules/:id/visibility
func (h *ModuleHandler) SetVisibility(c *gin.Context) {
	var req dto.VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Visibility must be one of draft, pilot_review, active, archived")
		return
	}
	h.setVisibility(c, req.Visibility)
}

// ArchiveModule 归档模块
// POST /api/v1/admin/modules/:id/archive
func (h *ModuleHandler) ArchiveModule(c *gin.Context) {
	h.setVisibility(c, model.VisibilityArchived)
}

func (h *ModuleHandler) setVisibility(c *gin.Context, visibility string) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.moduleSvc.SetVisibility(c.Request.Context(), c.Param("id"), visibility, callerID); err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, gin.H{"visibility": visibility})
}

// DeleteModule 物理删除模块
// DELETE /api/v1/admin/modules/:id
func (h *ModuleHandler) DeleteModule(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.moduleSvc.Delete(c.Request.Context(), c.Param("id"), callerID); err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, nil)
}

// CheckUpdate 检查单个模块资料是否更新
// POST /api/v1/admin/modules/:id/check-update
func (h *ModuleHandler) CheckUpdate(c *gin.Context) {
	res, err := h.moduleSvc.CheckUpdate(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, res)
}

// CheckAllUpdates 检查所有模块资料
// POST /api/v1/admin/modules/check-updates
func (h *ModuleHandler) CheckAllUpdates(c *gin.Context) {
	res, err := h.moduleSvc.CheckAllUpdates(c.Request.Context())
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, res)
}

// GradeAll 为模块下所有未完成评分的提交排队刷新
// POST /api/v1/admin/modules/:id/grade-all
func (h *ModuleHandler) GradeAll(c *gin.Context) {
	res, err := h.gradeSvc.GradeAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrModuleNotFound) {
			handleModuleError(c, err)
			return
		}
		handleGradeError(c, err)
		return
	}

	response.OK(c, res)
}

// handleModuleError 模块目录与选课台账共用的错误映射
func handleModuleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrModuleNotFound):
		response.NotFound(c, 14001, "Module not found")
	case errors.Is(err, service.ErrModuleAccessDenied):
		response.Forbidden(c, 14002, "Access denied")
	case errors.Is(err, service.ErrAlreadySelected):
		response.BadRequest(c, 14003, err.Error())
	case errors.Is(err, service.ErrSelectionLimitReached):
		response.BadRequest(c, 14004, err.Error())
	case errors.Is(err, service.ErrModuleFull):
		response.BadRequest(c, 14005, err.Error())
	case errors.Is(err, service.ErrModuleNotSelected):
		response.BadRequest(c, 14006, err.Error())
	case errors.Is(err, service.ErrReleaseBlocked):
		response.BadRequest(c, 14007, err.Error())
	case errors.Is(err, service.ErrSwapSameModule):
		response.BadRequest(c, 14008, err.Error())
	case errors.Is(err, service.ErrModuleNotHeld):
		response.Forbidden(c, 14009, err.Error())
	case errors.Is(err, service.ErrDriveUnavailable):
		response.Error(c, http.StatusServiceUnavailable, 14010, err.Error())
	case errors.Is(err, service.ErrModuleFileMissing):
		response.NotFound(c, 14011, err.Error())
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Error(c, http.StatusConflict, 14012, err.Error())
	case errors.Is(err, service.ErrCourseNotFound):
		response.BadRequest(c, 13001, "Course not found")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, 12001, "User not found")
	default:
		response.InternalError(c)
	}
}

package handler

import (
	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// SelectionHandler 选课台账 HTTP 处理器
type SelectionHandler struct {
	selectionSvc service.SelectionService
}

// NewSelectionHandler 创建 SelectionHandler
func NewSelectionHandler(selectionSvc service.SelectionService) *SelectionHandler {
	return &SelectionHandler{selectionSvc: selectionSvc}
}

// Select 选择模块并设为当前激活
// POST /api/v1/modules/:id/select
func (h *SelectionHandler) Select(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	sel, err := h.selectionSvc.Select(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, sel)
}

// Switch 切换当前激活模块（必须已持有）
// POST /api/v1/modules/:id/switch
func (h *SelectionHandler) Switch(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	sel, err := h.selectionSvc.Switch(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, sel)
}

// Release 释放模块
// POST /api/v1/modules/:id/release
func (h *SelectionHandler) Release(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.selectionSvc.Release(c.Request.Context(), userID, c.Param("id")); err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, gin.H{"released": c.Param("id")})
}

// Swap 释放一个模块并选择另一个（原子操作）
// POST /api/v1/modules/swap
func (h *SelectionHandler) Swap(c *gin.Context) {
	var req dto.SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "release_module_id and select_module_id are required")
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	sel, err := h.selectionSvc.Swap(c.Request.Context(), userID, req.ReleaseModuleID, req.SelectModuleID)
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, sel)
}

// ListMine 当前用户持有的选课
// GET /api/v1/selections/me
func (h *SelectionHandler) ListMine(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.selectionSvc.ListMine(c.Request.Context(), userID)
	if err != nil {
		handleModuleError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

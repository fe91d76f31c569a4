package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// ReminderHandler 每周提醒 HTTP 处理器（管理员）
type ReminderHandler struct {
	reminderSvc service.ReminderService
}

// NewReminderHandler 创建 ReminderHandler
func NewReminderHandler(reminderSvc service.ReminderService) *ReminderHandler {
	return &ReminderHandler{reminderSvc: reminderSvc}
}

// Pending 所有用户的待办预览
// GET /api/v1/admin/reminders/pending
func (h *ReminderHandler) Pending(c *gin.Context) {
	list, err := h.reminderSvc.PendingWork(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"list": list, "total": len(list)})
}

// SendNow 立即发送每周提醒
// POST /api/v1/admin/reminders/send-now
func (h *ReminderHandler) SendNow(c *gin.Context) {
	res, err := h.reminderSvc.SendWeekly(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, 17003, "Failed to send reminders")
		return
	}

	response.OK(c, res)
}

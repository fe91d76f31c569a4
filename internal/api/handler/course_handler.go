package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"review-portal/backend/internal/api/middleware"
	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/service"
	"review-portal/backend/pkg/response"
)

// CourseHandler 课程模块 HTTP 处理器
type CourseHandler struct {
	courseSvc   service.CourseService
	calendarSvc service.CalendarService
}

// NewCourseHandler 创建 CourseHandler
func NewCourseHandler(courseSvc service.CourseService, calendarSvc service.CalendarService) *CourseHandler {
	return &CourseHandler{courseSvc: courseSvc, calendarSvc: calendarSvc}
}

// ListCourses 课程列表；管理员传 all=true 时包含停用课程
// GET /api/v1/courses
func (h *CourseHandler) ListCourses(c *gin.Context) {
	activeOnly := !(c.GetString(middleware.CtxRole) == model.RoleAdmin && c.Query("all") == "true")

	courses, err := h.courseSvc.List(c.Request.Context(), activeOnly)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"list": courses})
}

// GetCourse 课程详情
// GET /api/v1/courses/:id
func (h *CourseHandler) GetCourse(c *gin.Context) {
	course, err := h.courseSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleCourseError(c, err)
		return
	}

	response.OK(c, course)
}

// CreateCourse 创建课程
// POST /api/v1/admin/courses
func (h *CourseHandler) CreateCourse(c *gin.Context) {
	var req dto.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid course payload")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	course, err := h.courseSvc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleCourseError(c, err)
		return
	}

	response.Created(c, course)
}

// UpdateCourse 更新课程
// PUT /api/v1/admin/courses/:id
func (h *CourseHandler) UpdateCourse(c *gin.Context) {
	var req dto.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid course payload")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	course, err := h.courseSvc.Update(c.Request.Context(), c.Param("id"), &req, callerID)
	if err != nil {
		h.handleCourseError(c, err)
		return
	}

	response.OK(c, course)
}

// DeleteCourse 删除课程
// DELETE /api/v1/admin/courses/:id
func (h *CourseHandler) DeleteCourse(c *gin.Context) {
	if err := h.courseSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleCourseError(c, err)
		return
	}

	response.OK(c, nil)
}

// Calendar 课程日历订阅（iCalendar）
// GET /api/v1/courses/:id/calendar.ics
func (h *CourseHandler) Calendar(c *gin.Context) {
	ics, filename, err := h.calendarSvc.CourseCalendar(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleCourseError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

func (h *CourseHandler) handleCourseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 13001, "Course not found")
	case errors.Is(err, service.ErrCourseCodeExists):
		response.BadRequest(c, 13002, err.Error())
	case errors.Is(err, service.ErrCourseDateInvalid):
		response.BadRequest(c, 13003, err.Error())
	case errors.Is(err, service.ErrCourseNoStartDate):
		response.BadRequest(c, 13004, err.Error())
	default:
		response.InternalError(c)
	}
}

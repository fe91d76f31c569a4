package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务码分段：0 成功；10xxx 通用；11xxx 认证；12xxx 用户；13xxx 课程；
// 14xxx 模块与选课；15xxx 提交；16xxx 评分；17xxx 导出与提醒；50000 未知错误
const (
	CodeOK           = 0
	CodeBodyTooLarge = 10005
	CodeInternal     = 50000
)

// 与 middleware.CtxRequestID 保持一致；response 包不反向依赖 middleware
const ctxRequestID = "request_id"

// Response 统一响应信封
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Pagination 分页元数据
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PageData 分页列表
type PageData struct {
	List       interface{} `json:"list"`
	Pagination Pagination  `json:"pagination"`
}

func write(c *gin.Context, status, code int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(ctxRequestID),
	})
}

// ────── 成功 ──────

func OK(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, CodeOK, "success", data)
}

func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, CodeOK, "success", data)
}

// OKPage 分页列表；pageSize 非正时按单页处理
func OKPage(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	pages := 1
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	write(c, http.StatusOK, CodeOK, "success", PageData{
		List:       list,
		Pagination: Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages},
	})
}

// ────── 失败 ──────

func Error(c *gin.Context, httpStatus, code int, message string) {
	write(c, httpStatus, code, message, nil)
}

func BadRequest(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

func Forbidden(c *gin.Context, code int, message string) {
	Error(c, http.StatusForbidden, code, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

// InternalError 不向客户端暴露内部错误细节，排查依赖 request_id 对应的日志
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}

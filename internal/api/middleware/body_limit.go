package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"review-portal/backend/pkg/response"
)

// BodyLimit 限制请求体大小。
// 声明了 Content-Length 且超限的请求直接拒绝；分块上传由 MaxBytesReader 在读取时截断，
// 绑定失败后若错误链中含 *http.MaxBytesError 则改写为 413。
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeBodyTooLarge, "Request body too large")
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		c.Next()

		if c.Writer.Written() {
			return
		}
		var tooLarge *http.MaxBytesError
		for _, e := range c.Errors {
			if errors.As(e.Err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, response.CodeBodyTooLarge, "Request body too large")
				return
			}
		}
	}
}

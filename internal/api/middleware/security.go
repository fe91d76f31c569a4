package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders 设置安全响应头。
// JSON 接口禁止被嵌入；PDF 接口允许前端以 iframe 内联预览，frame-ancestors 放行前端来源。
func SecurityHeaders(frontendOrigins []string) gin.HandlerFunc {
	ancestors := "'self'"
	if len(frontendOrigins) > 0 {
		ancestors += " " + strings.Join(frontendOrigins, " ")
	}
	apiPolicy := "default-src 'none'; frame-ancestors 'none'"
	pdfPolicy := "default-src 'none'; plugin-types application/pdf; frame-ancestors " + ancestors

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

		if strings.HasSuffix(c.Request.URL.Path, "/pdf") || strings.HasSuffix(c.Request.URL.Path, "/pdf/download") {
			h.Set("Content-Security-Policy", pdfPolicy)
		} else {
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", apiPolicy)
			h.Set("Cache-Control", "no-store")
		}

		c.Next()
	}
}

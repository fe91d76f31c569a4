package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessLog_TraceIDAndRoute(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(AccessLog(zap.New(core)))
	r.GET("/modules/:id", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CtxRequestID)) })

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"透传合法 ID", "trace-abc", true},
		{"缺省时生成", "", false},
		{"过长时重新生成", strings.Repeat("x", maxTraceIDLen+1), false},
		{"控制字符重新生成", "bad\nid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/modules/m-1", nil)
			if tt.incoming != "" {
				req.Header.Set(headerRequestID, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(headerRequestID)
			if got == "" || got != w.Body.String() {
				t.Fatalf("响应头与上下文中的追踪 ID 不一致: %q vs %q", got, w.Body.String())
			}
			if tt.keep != (got == tt.incoming) {
				t.Errorf("追踪 ID 处理不符: incoming=%q got=%q", tt.incoming, got)
			}
		})
	}

	entries := logs.FilterField(zap.String("route", "/modules/:id")).All()
	if len(entries) != len(tests) {
		t.Fatalf("期望 %d 条按路由模板记录的日志，实际 %d", len(tests), len(entries))
	}
}

func TestAccessLog_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(AccessLog(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, p := range []string{"/health", "/boom", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	want := []zapcore.Level{zapcore.DebugLevel, zapcore.ErrorLevel, zapcore.WarnLevel}
	all := logs.All()
	if len(all) != len(want) {
		t.Fatalf("期望 %d 条日志，实际 %d", len(want), len(all))
	}
	for i, lvl := range want {
		if all[i].Level != lvl {
			t.Errorf("第 %d 条日志级别期望 %s，实际 %s", i, lvl, all[i].Level)
		}
	}
	if all[2].ContextMap()["route"] != "unmatched" {
		t.Errorf("未匹配路由应记为 unmatched，实际 %v", all[2].ContextMap()["route"])
	}
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(16))
	r.POST("/feedback", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		body   string
		chunk  bool
		status int
	}{
		{"未超限", `{"a":1}`, false, http.StatusNoContent},
		{"声明长度超限", `{"comments":"far too long"}`, false, http.StatusRequestEntityTooLarge},
		{"分块读取超限", `{"comments":"far too long"}`, true, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.chunk {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("期望 %d，实际 %d (%s)", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestSecurityHeaders_PDFFraming(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders([]string{"https://portal.example.com"}))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1/modules/:id", ok)
	r.GET("/api/v1/modules/:id/pdf", ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/modules/m1", nil))
	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("JSON 接口应禁止嵌入且不缓存: %v", w.Header())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/modules/m1/pdf", nil))
	if w.Header().Get("X-Frame-Options") != "" {
		t.Error("PDF 接口不应设置 X-Frame-Options")
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors 'self' https://portal.example.com") {
		t.Errorf("PDF 接口应放行前端来源嵌入，实际 %q", csp)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("缺少 nosniff")
	}
}

package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		route     string
		status    int
		errorType string
		want      zapcore.Level
	}{
		{route: "/health", status: http.StatusOK, want: zap.DebugLevel},
		{route: "/v1/consume", status: http.StatusPaymentRequired, errorType: "denied", want: zap.DebugLevel},
		{route: "/v1/consume", status: http.StatusBadRequest, errorType: "validation", want: zap.WarnLevel},
		{route: "/v1/consume", status: http.StatusInternalServerError, errorType: "internal", want: zap.ErrorLevel},
		{route: "/v1/wallet", status: http.StatusOK, want: zap.InfoLevel},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.route, tc.status, tc.errorType); got != tc.want {
			t.Fatalf("requestLevel(%s, %d, %s) = %s, want %s", tc.route, tc.status, tc.errorType, got, tc.want)
		}
	}
}

func TestGinMiddlewareLogsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "denied", "budget_exceeded" },
	}))
	r.POST("/v1/consume", func(c *gin.Context) {
		c.Set("action", "ai.generate")
		_ = c.Error(errors.New("budget"))
		c.AbortWithStatus(http.StatusPaymentRequired)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/consume", nil)
	req.Header.Set("X-Request-Id", "req_42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") != "req_42" {
		t.Fatalf("expected request id echoed, got %q", rec.Header().Get("X-Request-Id"))
	}
	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zap.DebugLevel {
		t.Fatalf("expected denial at debug, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["action"] != "ai.generate" || fields["error_code"] != "budget_exceeded" || fields["request_id"] != "req_42" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

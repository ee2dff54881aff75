package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/health"
	"tempmail/bot/internal/monitoring"
)

func newTestRouter(ready error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()
	checker := health.NewHealthChecker(metrics.Registry(), zap.NewNop())
	checker.AddReadiness("database", func(context.Context) error { return ready })

	cfg := &config.Config{
		Mailbox:  config.MailboxConfig{MaxPerUser: 100},
		Mailgun:  config.MailgunConfig{Domain: "mail.test"},
		Database: config.DatabaseConfig{Type: "postgres", DSN: "postgres://x"},
	}
	return NewRouter(RouterDependencies{Config: cfg, Health: checker, Metrics: metrics, Logger: zap.NewNop()})
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	t.Run("存活与就绪", func(t *testing.T) {
		r := newTestRouter(nil)
		assert.Equal(t, http.StatusOK, get(r, "/health/live").Code)
		assert.Equal(t, http.StatusOK, get(r, "/health/ready").Code)
	})

	t.Run("依赖不可用时未就绪", func(t *testing.T) {
		r := newTestRouter(errors.New("down"))
		assert.Equal(t, http.StatusOK, get(r, "/health/live").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(r, "/health/ready").Code)
	})

	t.Run("指标", func(t *testing.T) {
		r := newTestRouter(nil)
		get(r, "/health/live")
		rec := get(r, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "tempmail_http_requests_total")
	})

	t.Run("运行信息", func(t *testing.T) {
		rec := get(newTestRouter(nil), "/info")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Code int         `json:"code"`
			Data ServiceInfo `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "postgres", resp.Data.Storage)
		assert.Equal(t, "local", resp.Data.Sessions)
		assert.Equal(t, 100, resp.Data.MailboxLimit)
	})

	t.Run("未知路径", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(newTestRouter(nil), "/api/v1/mailboxes").Code)
	})
}

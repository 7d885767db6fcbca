package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) (*gin.Engine, *models.Principal) {
	var seen models.Principal
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		seen, _ = PrincipalFrom(c)
		c.Status(http.StatusOK)
	})
	r.GET("/api/tasks", handlers...)
	r.GET("/health", handlers...)
	return r, &seen
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	mw := NewAuthMiddleware(authService)

	t.Run("valid token", func(t *testing.T) {
		r, seen := newRouter(mw.Authenticate())
		token, err := authService.GenerateToken(models.Principal{Subject: "dispatcher", Role: models.RoleOperator})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(r, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "dispatcher", seen.Subject)
		assert.Equal(t, models.RoleOperator, seen.Role)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		r, _ := newRouter(mw.Authenticate())
		w := serve(r, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		r, _ := newRouter(mw.Authenticate())
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := serve(r, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"code":"unauthorized","message":"invalid token"}`, w.Body.String())
	})

	t.Run("skip auth path", func(t *testing.T) {
		r, _ := newRouter(mw.Authenticate())
		w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAuthMiddleware_ActorHeaderWhenDisabled(t *testing.T) {
	mw := NewAuthMiddleware(nil)
	r, seen := newRouter(mw.Authenticate())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(ActorHeader, "alice")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
	assert.Equal(t, "alice", seen.Subject)
	assert.Equal(t, models.RoleAdmin, seen.Role)

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/api/tasks", nil)).Code)
	assert.Equal(t, "system", seen.Subject)
}

func TestRequirePermission(t *testing.T) {
	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	mw := NewAuthMiddleware(authService)

	tests := []struct {
		name   string
		role   models.Role
		action string
		want   int
	}{
		{"viewer can view", models.RoleViewer, models.ActionViewMaintenance, http.StatusOK},
		{"viewer cannot create orders", models.RoleViewer, models.ActionCreateOrders, http.StatusForbidden},
		{"manager cannot delete tasks", models.RoleManager, models.ActionDeleteTasks, http.StatusForbidden},
		{"admin can delete tasks", models.RoleAdmin, models.ActionDeleteTasks, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(mw.Authenticate(), RequirePermission(tt.action))
			token, err := authService.GenerateToken(models.Principal{Subject: "u", Role: tt.role})
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			assert.Equal(t, tt.want, serve(r, req).Code)
		})
	}

	t.Run("no principal", func(t *testing.T) {
		r, _ := newRouter(RequirePermission(models.ActionViewMaintenance))
		assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/api/tasks", nil)).Code)
	})
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	r, _ := newRouter(limiter.RateLimit(2, time.Minute))

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.RemoteAddr = ip + ":12345"
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, request("192.168.1.1"))
	assert.Equal(t, http.StatusOK, request("192.168.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("192.168.1.1"))
	assert.Equal(t, http.StatusOK, request("192.168.1.2"))

	now = now.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, request("192.168.1.1"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}

func TestRecovery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))
	r.GET("/boom", func(c *gin.Context) {
		panic(errors.New("invariant violation: order o1 mixes assets"))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"internal","message":"internal error"}`, w.Body.String())
}

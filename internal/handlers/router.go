package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/metrics"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/service"
)

// RouterConfig holds the cross-cutting settings of the API.
type RouterConfig struct {
	// Auth enables bearer token checks. Nil trusts the X-Actor header.
	Auth            *auth.Service
	RateLimit       int
	RateLimitWindow time.Duration
	Logger          logrus.FieldLogger
}

// NewRouter wires every maintenance route.
func NewRouter(svc *service.MaintenanceService, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := NewMaintenanceHandler(svc)
	limiter := middleware.NewRateLimiter()
	authMW := middleware.NewAuthMiddleware(cfg.Auth)
	perm := middleware.RequirePermission

	r := gin.New()
	r.Use(
		middleware.Recovery(logger),
		middleware.RequestLogger(logger),
		limiter.RateLimit(cfg.RateLimit, cfg.RateLimitWindow),
		authMW.Authenticate(),
	)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		view := perm(models.ActionViewMaintenance)
		api.GET("/service-types", view, h.ServiceTypes)
		api.GET("/assets", view, h.ListAssets)
		api.POST("/assets/:id/meter", perm(models.ActionRecordMeters), h.RecordMeter)
		api.GET("/vendors", view, h.ListVendors)
		api.POST("/vendors", perm(models.ActionManageVendors), h.CreateVendor)

		schedules := api.Group("/schedules")
		schedules.GET("", view, h.ListSchedules)
		schedules.POST("", perm(models.ActionManageSchedules), h.CreateSchedule)
		schedules.GET("/:id", view, h.GetSchedule)
		schedules.POST("/:id/expand", perm(models.ActionManageSchedules), h.ExpandSchedule)

		tasks := api.Group("/tasks")
		tasks.GET("", view, h.ListTasks)
		tasks.GET("/counts", view, h.TaskCounts)
		tasks.POST("/delete", perm(models.ActionDeleteTasks), h.DeleteTasks)
		tasks.GET("/:id", view, h.GetTask)
		tasks.PATCH("/:id", perm(models.ActionEditTasks), h.EditTask)
		tasks.PATCH("/:id/cancel", perm(models.ActionCancelTasks), h.CancelTask)

		orders := api.Group("/orders")
		orders.GET("", view, h.ListOrders)
		orders.POST("", perm(models.ActionCreateOrders), h.CreateOrders)
		orders.GET("/:id", view, h.GetOrder)
		orders.POST("/:id/completions", perm(models.ActionCompleteOrders), h.CompleteOrder)
		orders.POST("/:id/cancel", perm(models.ActionCancelOrders), h.CancelOrder)

		api.POST("/batches/:id/completions", perm(models.ActionCompleteOrders), h.CompleteBatch)
		api.GET("/expenses", perm(models.ActionViewExpenses), h.Expenses)
	}
	return r
}

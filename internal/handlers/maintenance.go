package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/service"
)

// MaintenanceHandler serves the maintenance API.
type MaintenanceHandler struct {
	svc *service.MaintenanceService
}

// NewMaintenanceHandler creates a new maintenance handler
func NewMaintenanceHandler(svc *service.MaintenanceService) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type expandRequest struct {
	BatchID string `json:"batch_id"`
}

type deleteTasksRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type expensesResponse struct {
	Expenses []models.Expense                    `json:"expenses"`
	Totals   map[models.Currency]decimal.Decimal `json:"totals"`
}

func (h *MaintenanceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MaintenanceHandler) ServiceTypes(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Catalog(models.EntityFilter(c.Query("entity_filter"))))
}

func (h *MaintenanceHandler) ListVendors(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Vendors())
}

func (h *MaintenanceHandler) CreateVendor(c *gin.Context) {
	var req models.VendorDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.svc.CreateVendor(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *MaintenanceHandler) ListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Assets())
}

// RecordMeter applies a meter reading to the asset in the path.
func (h *MaintenanceHandler) RecordMeter(c *gin.Context) {
	var req models.MeterReading
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.AssetID = c.Param("id")
	if err := h.svc.RecordReading(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MaintenanceHandler) ListSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Schedules())
}

func (h *MaintenanceHandler) GetSchedule(c *gin.Context) {
	s, err := h.svc.Schedule(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// CreateSchedule stores a schedule and returns the first task cohort.
func (h *MaintenanceHandler) CreateSchedule(c *gin.Context) {
	var req models.Schedule
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ExpandSchedule spawns another cohort. The body is optional.
func (h *MaintenanceHandler) ExpandSchedule(c *gin.Context) {
	var req expandRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.svc.ExpandSchedule(c.Request.Context(), c.Param("id"), req.BatchID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// ListTasks returns tasks with their derived status.
func (h *MaintenanceHandler) ListTasks(c *gin.Context) {
	filter := maintenance.TaskFilter{
		AssetID:    c.Query("asset_id"),
		ScheduleID: c.Query("schedule_id"),
		BatchID:    c.Query("batch_id"),
		Status:     models.TaskStatus(c.Query("status")),
	}
	if filter.Status != "" && !models.IsValidTaskStatus(filter.Status) {
		writeError(c, &maintenance.ValidationError{Field: "status", Message: "unknown task status " + string(filter.Status)})
		return
	}
	c.JSON(http.StatusOK, h.svc.ListTasks(filter))
}

func (h *MaintenanceHandler) TaskCounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.StatusCounts(c.Query("asset_id")))
}

func (h *MaintenanceHandler) GetTask(c *gin.Context) {
	t, err := h.svc.Task(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *MaintenanceHandler) EditTask(c *gin.Context) {
	var req maintenance.TaskEdit
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.svc.EditTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *MaintenanceHandler) CancelTask(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.svc.CancelTask(c.Request.Context(), c.Param("id"), req.Reason, middleware.Actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *MaintenanceHandler) DeleteTasks(c *gin.Context) {
	var req deleteTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	deleted, err := h.svc.DeleteTasks(c.Request.Context(), req.TaskIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ListOrders returns orders with their display status.
func (h *MaintenanceHandler) ListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListOrders(maintenance.OrderFilter{
		AssetID:       c.Query("asset_id"),
		BatchID:       c.Query("batch_id"),
		VendorID:      c.Query("vendor_id"),
		DisplayStatus: models.OrderDisplayStatus(c.Query("status")),
	}))
}

func (h *MaintenanceHandler) GetOrder(c *gin.Context) {
	o, err := h.svc.Order(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CreateOrders opens one work order per asset. A replayed batch id returns
// 200 with the original orders.
func (h *MaintenanceHandler) CreateOrders(c *gin.Context) {
	var req maintenance.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.CreateOrders(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *MaintenanceHandler) CancelOrder(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason, middleware.Actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *MaintenanceHandler) CompleteOrder(c *gin.Context) {
	h.complete(c, h.svc.CompleteOrder)
}

func (h *MaintenanceHandler) CompleteBatch(c *gin.Context) {
	h.complete(c, h.svc.CompleteBatch)
}

type completeFunc func(ctx context.Context, id string, req maintenance.CompletionRequest) (maintenance.CompletionResult, error)

func (h *MaintenanceHandler) complete(c *gin.Context, fn completeFunc) {
	var req maintenance.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.CompletedBy = middleware.Actor(c)
	res, err := fn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// Expenses returns projected maintenance expenses and their totals per
// currency.
func (h *MaintenanceHandler) Expenses(c *gin.Context) {
	expenses, totals := h.svc.Expenses(c.Query("asset_id"))
	c.JSON(http.StatusOK, expensesResponse{Expenses: expenses, Totals: totals})
}

package maintenance

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// OrderRequest asks for work orders covering a set of tasks. One order is
// created per asset; all of them share a batch id.
type OrderRequest struct {
	BatchID   string                `json:"batch_id,omitempty"`
	TaskIDs   []string              `json:"task_ids"`
	VendorID  string                `json:"vendor_id,omitempty"`
	NewVendor *models.VendorDetails `json:"new_vendor,omitempty"`
	CreatedAt *time.Time            `json:"create_date,omitempty"`
	DueDate   *time.Time            `json:"due_date,omitempty"`
	Meta      models.OrderMeta      `json:"meta"`
	Notes     string                `json:"notes,omitempty"`
}

// OrderResult is the outcome of CreateOrders.
type OrderResult struct {
	BatchID string             `json:"batch_id"`
	Orders  []models.TaskOrder `json:"orders"`
	// Vendor is set when the request created a new vendor.
	Vendor   *models.Vendor `json:"vendor,omitempty"`
	Replayed bool           `json:"replayed"`
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	AssetID       string
	BatchID       string
	VendorID      string
	DisplayStatus models.OrderDisplayStatus
}

func (r OrderRequest) validate(now time.Time) error {
	if len(r.TaskIDs) == 0 {
		return invalid("task_ids", "select at least one task")
	}
	if r.VendorID == "" && r.NewVendor == nil {
		return invalid("vendor_id", "a vendor is required")
	}
	if r.VendorID != "" && r.NewVendor != nil {
		return invalid("vendor_id", "give either an existing vendor or a new one, not both")
	}
	if r.NewVendor != nil && strings.TrimSpace(r.NewVendor.CompanyName) == "" {
		return invalid("new_vendor.company_name", "company name is required")
	}
	switch r.Meta.OdometerUnit {
	case "", models.OdometerMiles, models.OdometerKilometres:
	default:
		return invalid("meta.odometer_unit", "unknown odometer unit %q", r.Meta.OdometerUnit)
	}
	if r.DueDate != nil {
		created := now
		if r.CreatedAt != nil {
			created = *r.CreatedAt
		}
		if r.DueDate.Before(created) {
			return invalid("due_date", "due date is before the order date")
		}
	}
	return nil
}

// CreateOrders groups the requested tasks by asset and creates one open
// order per asset, locking every task. Nothing is created if any task is
// missing, terminal or already locked.
func (e *Engine) CreateOrders(req OrderRequest, now time.Time) (OrderResult, error) {
	if err := req.validate(now); err != nil {
		return OrderResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.BatchID != "" {
		if ids, seen := e.orderBatches[req.BatchID]; seen {
			result := OrderResult{BatchID: req.BatchID, Replayed: true}
			for _, id := range ids {
				result.Orders = append(result.Orders, e.orders[id].Clone())
			}
			return result, nil
		}
	}

	var assetOrder []string
	byAsset := make(map[string][]string)
	seen := make(map[string]bool, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, ok := e.tasks[id]
		if !ok {
			return OrderResult{}, &NotFoundError{Kind: "task", ID: id}
		}
		if err := e.checkMutable(t); err != nil {
			return OrderResult{}, err
		}
		if _, ok := byAsset[t.AssetID]; !ok {
			assetOrder = append(assetOrder, t.AssetID)
		}
		byAsset[t.AssetID] = append(byAsset[t.AssetID], id)
	}

	var vendor models.Vendor
	var created *models.Vendor
	if req.NewVendor != nil {
		v, err := e.vendors.Create(*req.NewVendor, now)
		if err != nil {
			return OrderResult{}, err
		}
		vendor, created = v, &v
	} else {
		v, ok := e.vendors.Get(req.VendorID)
		if !ok {
			return OrderResult{}, &NotFoundError{Kind: "vendor", ID: req.VendorID}
		}
		vendor = v
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = e.newID()
	}
	createdAt := now
	if req.CreatedAt != nil {
		createdAt = *req.CreatedAt
	}
	meta := req.Meta
	if meta.OdometerUnit == "" {
		meta.OdometerUnit = models.OdometerMiles
	}

	result := OrderResult{BatchID: batchID, Vendor: created}
	for _, assetID := range assetOrder {
		o := &models.TaskOrder{
			ID:          e.newID(),
			BatchID:     batchID,
			AssetID:     assetID,
			TaskIDs:     byAsset[assetID],
			VendorID:    vendor.ID,
			Status:      models.OrderOpen,
			CreatedAt:   createdAt,
			Meta:        meta,
			Notes:       req.Notes,
			Completions: []models.OrderCompletionEvent{},
			UpdatedAt:   now,
			Version:     1,
		}
		if req.DueDate != nil {
			d := *req.DueDate
			o.DueDate = &d
		}
		e.lockTasks(o)
		e.orders[o.ID] = o
		e.orderSeq = append(e.orderSeq, o.ID)
		e.orderBatches[batchID] = append(e.orderBatches[batchID], o.ID)
		e.checkOrder(o)
		result.Orders = append(result.Orders, o.Clone())
	}

	e.log.WithFields(logrus.Fields{
		"batch_id":  batchID,
		"vendor_id": vendor.ID,
		"orders":    len(result.Orders),
		"tasks":     len(seen),
	}).Info("Work orders created")
	return result, nil
}

// CancelOrder closes an open order that has no recorded completions and
// releases its tasks, which return to their due-rule status.
func (e *Engine) CancelOrder(id, reason, actor string, now time.Time) (models.TaskOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.TaskOrder{}, invalid("reason", "a cancellation reason is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return models.TaskOrder{}, &NotFoundError{Kind: "order", ID: id}
	}
	if o.Status != models.OrderOpen {
		return models.TaskOrder{}, &TerminalStateError{Kind: "order", ID: id, State: string(o.Status)}
	}
	if len(o.Completions) > 0 {
		return models.TaskOrder{}, &ConflictError{Message: "order " + id + " already has recorded completions"}
	}

	e.unlockTasks(o)
	o.Status = models.OrderCancelled
	o.CancelDetails = &models.CancelDetails{Reason: reason, CancelledAt: now, CancelledBy: actor}
	o.UpdatedAt = now
	o.Version++
	e.checkOrder(o)

	e.log.WithFields(logrus.Fields{
		"order_id": id,
		"actor":    actor,
	}).Info("Work order cancelled")
	return o.Clone(), nil
}

// Order returns one order with its display status.
func (e *Engine) Order(id string) (models.OrderView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return models.OrderView{}, &NotFoundError{Kind: "order", ID: id}
	}
	return e.orderView(o), nil
}

// ListOrders returns orders in creation order.
func (e *Engine) ListOrders(filter OrderFilter) []models.OrderView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.OrderView{}
	for _, id := range e.orderSeq {
		o := e.orders[id]
		if filter.AssetID != "" && o.AssetID != filter.AssetID {
			continue
		}
		if filter.BatchID != "" && o.BatchID != filter.BatchID {
			continue
		}
		if filter.VendorID != "" && o.VendorID != filter.VendorID {
			continue
		}
		v := e.orderView(o)
		if filter.DisplayStatus != "" && v.DisplayStatus != filter.DisplayStatus {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Orders returns raw copies of every order, for expense projection.
func (e *Engine) Orders() []models.TaskOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.TaskOrder, 0, len(e.orderSeq))
	for _, id := range e.orderSeq {
		out = append(out, e.orders[id].Clone())
	}
	return out
}

func (e *Engine) orderView(o *models.TaskOrder) models.OrderView {
	done := 0
	for _, id := range o.TaskIDs {
		if t, ok := e.tasks[id]; ok && t.Lifecycle == models.LifecycleCompleted {
			done++
		}
	}
	v := models.OrderView{TaskOrder: o.Clone(), CompletedTasks: done}
	switch {
	case o.Status == models.OrderCancelled:
		v.DisplayStatus = models.DisplayCancelled
	case o.Status == models.OrderCompleted:
		v.DisplayStatus = models.DisplayCompleted
	case done == 0:
		v.DisplayStatus = models.DisplayPending
	default:
		v.DisplayStatus = models.DisplayPartiallyCompleted
	}
	return v
}

// checkOrder asserts the structural invariants of one order.
func (e *Engine) checkOrder(o *models.TaskOrder) {
	if err := e.orderConsistency(o); err != nil {
		panic(err)
	}
}

func (e *Engine) orderConsistency(o *models.TaskOrder) *InvariantViolation {
	fail := func(msg string) *InvariantViolation {
		return &InvariantViolation{Message: "order " + o.ID + ": " + msg}
	}
	if len(o.TaskIDs) == 0 {
		return fail("has no tasks")
	}
	allDone := true
	for _, id := range o.TaskIDs {
		t, ok := e.tasks[id]
		if !ok {
			return fail("references missing task " + id)
		}
		if t.AssetID != o.AssetID {
			return fail("task " + id + " belongs to asset " + t.AssetID)
		}
		if t.Lifecycle != models.LifecycleCompleted {
			allDone = false
		}
		if o.Status == models.OrderOpen && t.Lifecycle == models.LifecycleCancelled {
			return fail("open order holds cancelled task " + id)
		}
	}
	if o.Status != models.OrderCancelled && (o.Status == models.OrderCompleted) != allDone {
		return fail("status " + string(o.Status) + " disagrees with task completion")
	}
	for _, ev := range o.Completions {
		for _, id := range ev.TaskIDs {
			if !o.HasTask(id) {
				return fail("completion " + ev.ID + " covers foreign task " + id)
			}
		}
		for _, b := range ev.AssetBreakdowns {
			if !b.Costs.Balanced() {
				return fail("completion " + ev.ID + " has unbalanced costs")
			}
		}
	}
	return nil
}

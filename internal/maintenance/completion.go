package maintenance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

const milesPerKilometre = 0.621371

// AssetCompletion is the per-asset part of a completion request. It always
// covers every outstanding task of the asset in the order.
type AssetCompletion struct {
	AssetID          string          `json:"asset_id"`
	FinalOdometer    *float64        `json:"final_odometer,omitempty"`
	FinalEngineHours *float64        `json:"final_engine_hours,omitempty"`
	PartsAndSupplies decimal.Decimal `json:"parts_and_supplies"`
	Labour           decimal.Decimal `json:"labour"`
	Tax              decimal.Decimal `json:"tax"`
	Remarks          string          `json:"remarks,omitempty"`
}

// CompletionRequest records finished work for one or more assets. A
// repeated RequestID returns the events recorded the first time. Currency
// defaults to CAD.
type CompletionRequest struct {
	RequestID     string            `json:"request_id,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time        `json:"invoice_date,omitempty"`
	Currency      models.Currency   `json:"currency"`
	Assets        []AssetCompletion `json:"assets"`
	CompletedBy   string            `json:"-"`
}

// CompletionResult is the outcome of a completion request.
type CompletionResult struct {
	Orders   []models.TaskOrder            `json:"orders"`
	Events   []models.OrderCompletionEvent `json:"events"`
	Tasks    []models.MaintenanceTask      `json:"tasks"`
	Replayed bool                          `json:"replayed"`
}

type completionStep struct {
	order   *models.TaskOrder
	taskIDs []string
	detail  AssetCompletion
}

// CompleteOrder records completion for assets of a single order.
func (e *Engine) CompleteOrder(orderID string, req CompletionRequest, now time.Time) (CompletionResult, error) {
	if err := req.validate(); err != nil {
		return CompletionResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if result, ok := e.replayCompletion(req.RequestID); ok {
		return result, nil
	}
	o, ok := e.orders[orderID]
	if !ok {
		return CompletionResult{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	steps, err := e.planCompletion([]*models.TaskOrder{o}, req)
	if err != nil {
		return CompletionResult{}, err
	}
	return e.applyCompletion(steps, req, now), nil
}

// CompleteBatch records completion for assets spread over the orders of one
// batch. Every asset is validated before any order is touched.
func (e *Engine) CompleteBatch(batchID string, req CompletionRequest, now time.Time) (CompletionResult, error) {
	if err := req.validate(); err != nil {
		return CompletionResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if result, ok := e.replayCompletion(req.RequestID); ok {
		return result, nil
	}
	ids, ok := e.orderBatches[batchID]
	if !ok {
		return CompletionResult{}, &NotFoundError{Kind: "batch", ID: batchID}
	}
	orders := make([]*models.TaskOrder, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, e.orders[id])
	}
	steps, err := e.planCompletion(orders, req)
	if err != nil {
		return CompletionResult{}, err
	}
	return e.applyCompletion(steps, req, now), nil
}

func (r CompletionRequest) validate() error {
	if len(r.Assets) == 0 {
		return invalid("assets", "select at least one asset")
	}
	if r.InvoiceDate == nil || r.InvoiceDate.IsZero() {
		return invalid("invoice_date", "invoice date is required")
	}
	if r.Currency != "" && !models.IsValidCurrency(r.Currency) {
		return invalid("currency", "unsupported currency %q", r.Currency)
	}
	seen := make(map[string]bool, len(r.Assets))
	for _, a := range r.Assets {
		if strings.TrimSpace(a.AssetID) == "" {
			return invalid("assets.asset_id", "asset id is required")
		}
		if seen[a.AssetID] {
			return invalid("assets.asset_id", "asset %q listed twice", a.AssetID)
		}
		seen[a.AssetID] = true
		if a.PartsAndSupplies.IsNegative() || a.Labour.IsNegative() || a.Tax.IsNegative() {
			return invalid("assets.costs", "costs for asset %q cannot be negative", a.AssetID)
		}
		if a.FinalOdometer != nil && *a.FinalOdometer < 0 {
			return invalid("assets.final_odometer", "odometer for asset %q cannot be negative", a.AssetID)
		}
		if a.FinalEngineHours != nil && *a.FinalEngineHours < 0 {
			return invalid("assets.final_engine_hours", "engine hours for asset %q cannot be negative", a.AssetID)
		}
	}
	return nil
}

// planCompletion resolves every requested asset to an open order and the
// outstanding tasks to complete. It does not mutate anything.
func (e *Engine) planCompletion(orders []*models.TaskOrder, req CompletionRequest) ([]completionStep, error) {
	steps := make([]completionStep, 0, len(req.Assets))
	for _, a := range req.Assets {
		var o *models.TaskOrder
		for _, candidate := range orders {
			if candidate.AssetID == a.AssetID {
				o = candidate
				break
			}
		}
		if o == nil {
			return nil, invalid("assets.asset_id", "asset %q is not part of this order", a.AssetID)
		}
		if o.Status != models.OrderOpen {
			return nil, &TerminalStateError{Kind: "order", ID: o.ID, State: string(o.Status)}
		}
		if o.Meta.OdometerRequired && a.FinalOdometer == nil {
			return nil, invalid("assets.final_odometer", "order %s requires a final odometer for asset %q", o.ID, a.AssetID)
		}
		if o.Meta.EngineHoursRequired && a.FinalEngineHours == nil {
			return nil, invalid("assets.final_engine_hours", "order %s requires final engine hours for asset %q", o.ID, a.AssetID)
		}

		var taskIDs []string
		for _, id := range o.TaskIDs {
			if e.tasks[id].Lifecycle == models.LifecycleActive {
				taskIDs = append(taskIDs, id)
			}
		}
		assertInvariant(len(taskIDs) > 0, "open order %s has no outstanding tasks", o.ID)
		steps = append(steps, completionStep{order: o, taskIDs: taskIDs, detail: a})
	}
	return steps, nil
}

func (e *Engine) applyCompletion(steps []completionStep, req CompletionRequest, now time.Time) CompletionResult {
	currency := req.Currency
	if currency == "" {
		currency = models.CurrencyCAD
	}
	invoiceDate := *req.InvoiceDate

	var result CompletionResult
	var eventIDs []string
	for _, step := range steps {
		o := step.order
		d := step.detail
		event := models.OrderCompletionEvent{
			ID:            e.newID(),
			CompletedAt:   now,
			CompletedBy:   req.CompletedBy,
			InvoiceNumber: req.InvoiceNumber,
			InvoiceDate:   invoiceDate,
			Currency:      currency,
			TaskIDs:       append([]string(nil), step.taskIDs...),
			AssetBreakdowns: []models.AssetCostBreakdown{{
				AssetID:          d.AssetID,
				FinalOdometer:    d.FinalOdometer,
				FinalEngineHours: d.FinalEngineHours,
				Costs:            models.NewCosts(d.PartsAndSupplies, d.Labour, d.Tax),
				Remarks:          d.Remarks,
			}},
		}
		event = event.Clone()

		for _, id := range step.taskIDs {
			t := e.tasks[id]
			completedAt := now
			t.Lifecycle = models.LifecycleCompleted
			t.CompletedAt = &completedAt
			t.UpdatedAt = now
			t.Version++
			result.Tasks = append(result.Tasks, t.Clone())
		}

		o.Completions = append(o.Completions, event)
		allDone := true
		for _, id := range o.TaskIDs {
			if e.tasks[id].Lifecycle != models.LifecycleCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			e.unlockTasks(o)
			o.Status = models.OrderCompleted
		}
		o.UpdatedAt = now
		o.Version++
		e.checkOrder(o)

		eventIDs = append(eventIDs, event.ID)
		result.Events = append(result.Events, event.Clone())
		result.Orders = append(result.Orders, o.Clone())

		e.log.WithFields(logrus.Fields{
			"order_id": o.ID,
			"asset_id": d.AssetID,
			"event_id": event.ID,
			"tasks":    len(step.taskIDs),
			"status":   o.Status,
		}).Info("Completion recorded")
	}
	if req.RequestID != "" {
		e.completionRequests[req.RequestID] = eventIDs
	}
	return result
}

func (e *Engine) replayCompletion(requestID string) (CompletionResult, bool) {
	if requestID == "" {
		return CompletionResult{}, false
	}
	eventIDs, ok := e.completionRequests[requestID]
	if !ok {
		return CompletionResult{}, false
	}
	want := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		want[id] = true
	}
	result := CompletionResult{Replayed: true}
	for _, orderID := range e.orderSeq {
		o := e.orders[orderID]
		matched := false
		for _, ev := range o.Completions {
			if want[ev.ID] {
				matched = true
				result.Events = append(result.Events, ev.Clone())
				for _, id := range ev.TaskIDs {
					result.Tasks = append(result.Tasks, e.tasks[id].Clone())
				}
			}
		}
		if matched {
			result.Orders = append(result.Orders, o.Clone())
		}
	}
	return result, true
}

// FinalReadings turns the meter values of a completion event into readings
// for the asset registry. Kilometre odometers are converted to miles.
func FinalReadings(o models.TaskOrder, ev models.OrderCompletionEvent) []models.MeterReading {
	var readings []models.MeterReading
	for _, b := range ev.AssetBreakdowns {
		if b.FinalOdometer == nil && b.FinalEngineHours == nil {
			continue
		}
		r := models.MeterReading{AssetID: b.AssetID, Timestamp: ev.CompletedAt}
		if b.FinalOdometer != nil {
			v := *b.FinalOdometer
			if o.Meta.OdometerUnit == models.OdometerKilometres {
				v *= milesPerKilometre
			}
			r.Odometer = &v
		}
		if b.FinalEngineHours != nil {
			v := *b.FinalEngineHours
			r.EngineHours = &v
		}
		readings = append(readings, r)
	}
	return readings
}

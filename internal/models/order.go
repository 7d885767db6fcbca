package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the stored status of a work order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderDisplayStatus is derived from the order's tasks for presentation.
type OrderDisplayStatus string

const (
	DisplayPending            OrderDisplayStatus = "pending"
	DisplayPartiallyCompleted OrderDisplayStatus = "partially_completed"
	DisplayCompleted          OrderDisplayStatus = "completed"
	DisplayCancelled          OrderDisplayStatus = "cancelled"
)

// OdometerUnit is the unit the vendor reports odometer readings in.
type OdometerUnit string

const (
	OdometerMiles      OdometerUnit = "miles"
	OdometerKilometres OdometerUnit = "km"
)

// Currency of a completion invoice.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyCAD Currency = "CAD"
)

// IsValidCurrency checks if a currency is supported.
func IsValidCurrency(c Currency) bool {
	return c == CurrencyUSD || c == CurrencyCAD
}

// OrderMeta holds the completion requirements captured at order creation.
type OrderMeta struct {
	OdometerRequired    bool         `bson:"odometer_required" json:"odometer_required"`
	OdometerUnit        OdometerUnit `bson:"odometer_unit" json:"odometer_unit"`
	EngineHoursRequired bool         `bson:"engine_hours_required" json:"engine_hours_required"`
}

// Costs is a per-asset cost breakdown. TotalPaid is always derived.
type Costs struct {
	PartsAndSupplies decimal.Decimal `bson:"parts_and_supplies" json:"parts_and_supplies"`
	Labour           decimal.Decimal `bson:"labour" json:"labour"`
	Tax              decimal.Decimal `bson:"tax" json:"tax"`
	TotalPaid        decimal.Decimal `bson:"total_paid" json:"total_paid"`
}

// NewCosts builds a breakdown with its total computed from the parts.
func NewCosts(parts, labour, tax decimal.Decimal) Costs {
	return Costs{
		PartsAndSupplies: parts,
		Labour:           labour,
		Tax:              tax,
		TotalPaid:        parts.Add(labour).Add(tax),
	}
}

// Balanced reports whether TotalPaid equals the sum of its parts.
func (c Costs) Balanced() bool {
	return c.TotalPaid.Equal(c.PartsAndSupplies.Add(c.Labour).Add(c.Tax))
}

// AssetCostBreakdown is the per-asset record inside a completion event.
type AssetCostBreakdown struct {
	AssetID          string   `bson:"asset_id" json:"asset_id"`
	FinalOdometer    *float64 `bson:"final_odometer,omitempty" json:"final_odometer,omitempty"`
	FinalEngineHours *float64 `bson:"final_engine_hours,omitempty" json:"final_engine_hours,omitempty"`
	Costs            Costs    `bson:"costs" json:"costs"`
	Remarks          string   `bson:"remarks,omitempty" json:"remarks,omitempty"`
}

// OrderCompletionEvent is an immutable record of one completion action.
type OrderCompletionEvent struct {
	ID              string               `bson:"id" json:"id"`
	CompletedAt     time.Time            `bson:"completed_at" json:"completed_at"`
	CompletedBy     string               `bson:"completed_by,omitempty" json:"completed_by,omitempty"`
	InvoiceNumber   string               `bson:"invoice_number,omitempty" json:"invoice_number,omitempty"`
	InvoiceDate     time.Time            `bson:"invoice_date" json:"invoice_date"`
	Currency        Currency             `bson:"currency" json:"currency"`
	TaskIDs         []string             `bson:"task_ids" json:"task_ids"`
	AssetBreakdowns []AssetCostBreakdown `bson:"asset_breakdowns" json:"asset_breakdowns"`
}

// Clone returns a deep copy of the event.
func (e OrderCompletionEvent) Clone() OrderCompletionEvent {
	e.TaskIDs = append([]string(nil), e.TaskIDs...)
	breakdowns := make([]AssetCostBreakdown, len(e.AssetBreakdowns))
	for i, b := range e.AssetBreakdowns {
		if b.FinalOdometer != nil {
			v := *b.FinalOdometer
			b.FinalOdometer = &v
		}
		if b.FinalEngineHours != nil {
			v := *b.FinalEngineHours
			b.FinalEngineHours = &v
		}
		breakdowns[i] = b
	}
	e.AssetBreakdowns = breakdowns
	return e
}

// TotalPaid sums the event's breakdowns, optionally restricted to one asset.
func (e OrderCompletionEvent) TotalPaid(assetID string) decimal.Decimal {
	total := decimal.Zero
	for _, b := range e.AssetBreakdowns {
		if assetID != "" && b.AssetID != assetID {
			continue
		}
		total = total.Add(b.Costs.TotalPaid)
	}
	return total
}

// TaskOrder is a vendor work order for the tasks of one asset.
type TaskOrder struct {
	ID            string                 `bson:"_id" json:"id"`
	BatchID       string                 `bson:"batch_id,omitempty" json:"batch_id,omitempty"`
	AssetID       string                 `bson:"asset_id" json:"asset_id"`
	TaskIDs       []string               `bson:"task_ids" json:"task_ids"`
	VendorID      string                 `bson:"vendor_id" json:"vendor_id"`
	Status        OrderStatus            `bson:"status" json:"status"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	DueDate       *time.Time             `bson:"due_date,omitempty" json:"due_date,omitempty"`
	Meta          OrderMeta              `bson:"meta" json:"meta"`
	Notes         string                 `bson:"notes,omitempty" json:"notes,omitempty"`
	Completions   []OrderCompletionEvent `bson:"completions" json:"completions"`
	CancelDetails *CancelDetails         `bson:"cancel_details,omitempty" json:"cancel_details,omitempty"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
	Version       int64                  `bson:"version" json:"version"`
}

// Clone returns a deep copy of the order.
func (o TaskOrder) Clone() TaskOrder {
	o.TaskIDs = append([]string(nil), o.TaskIDs...)
	if o.DueDate != nil {
		d := *o.DueDate
		o.DueDate = &d
	}
	completions := make([]OrderCompletionEvent, len(o.Completions))
	for i, c := range o.Completions {
		completions[i] = c.Clone()
	}
	o.Completions = completions
	if o.CancelDetails != nil {
		cd := *o.CancelDetails
		o.CancelDetails = &cd
	}
	return o
}

// HasTask reports whether the order references the task.
func (o TaskOrder) HasTask(taskID string) bool {
	for _, id := range o.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// OrderView is an order together with its derived display status.
type OrderView struct {
	TaskOrder      `bson:",inline"`
	DisplayStatus  OrderDisplayStatus `json:"display_status"`
	CompletedTasks int                `json:"completed_tasks"`
}

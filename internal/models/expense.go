package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseSource tells manual entries apart from projected ones.
type ExpenseSource string

const (
	ExpenseSourceManual      ExpenseSource = "manual"
	ExpenseSourceMaintenance ExpenseSource = "maintenance"
)

// MaintenanceExpenseTypeID is the system expense type for work-order spend.
const MaintenanceExpenseTypeID = "exp_maint"

// Expense represents a fleet expense record. Maintenance expenses are
// projected from completed work and never stored.
type Expense struct {
	ID            string          `json:"id"`
	AssetID       string          `json:"asset_id,omitempty"`
	ExpenseTypeID string          `json:"expense_type_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	Date          time.Time       `json:"date"`
	Source        ExpenseSource   `json:"source"`
	ReferenceID   string          `json:"reference_id"`  // work order id
	CompletionID  string          `json:"completion_id"` // completion event id
	VendorID      string          `json:"vendor_id,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

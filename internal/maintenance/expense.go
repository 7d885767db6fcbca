package maintenance

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// ProjectExpenses derives one maintenance expense per completion event.
// With assetID set only that asset's share is counted and events without a
// share are skipped. The result is ordered by invoice date.
func ProjectExpenses(orders []models.TaskOrder, assetID string) []models.Expense {
	expenses := []models.Expense{}
	for _, o := range orders {
		for _, ev := range o.Completions {
			if assetID != "" && !hasBreakdownFor(ev, assetID) {
				continue
			}
			id := "maint_" + ev.ID
			if assetID != "" {
				id += "_" + assetID
			}
			expenses = append(expenses, models.Expense{
				ID:            id,
				AssetID:       o.AssetID,
				ExpenseTypeID: models.MaintenanceExpenseTypeID,
				Amount:        ev.TotalPaid(assetID),
				Currency:      ev.Currency,
				Date:          ev.InvoiceDate,
				Source:        models.ExpenseSourceMaintenance,
				ReferenceID:   o.ID,
				CompletionID:  ev.ID,
				VendorID:      o.VendorID,
				InvoiceNumber: ev.InvoiceNumber,
				Notes:         "Work order " + o.ID,
			})
		}
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		if !expenses[i].Date.Equal(expenses[j].Date) {
			return expenses[i].Date.Before(expenses[j].Date)
		}
		return expenses[i].ID < expenses[j].ID
	})
	return expenses
}

// TotalsByCurrency sums expense amounts per currency.
func TotalsByCurrency(expenses []models.Expense) map[models.Currency]decimal.Decimal {
	totals := make(map[models.Currency]decimal.Decimal)
	for _, ex := range expenses {
		cur, ok := totals[ex.Currency]
		if !ok {
			cur = decimal.Zero
		}
		totals[ex.Currency] = cur.Add(ex.Amount)
	}
	return totals
}

func hasBreakdownFor(ev models.OrderCompletionEvent, assetID string) bool {
	for _, b := range ev.AssetBreakdowns {
		if b.AssetID == assetID {
			return true
		}
	}
	return false
}

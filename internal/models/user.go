package models

// Role represents user roles in the system
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Actions guarded by the permission table.
const (
	ActionViewMaintenance = "view_maintenance"
	ActionManageSchedules = "manage_schedules"
	ActionEditTasks       = "edit_tasks"
	ActionCancelTasks     = "cancel_tasks"
	ActionDeleteTasks     = "delete_tasks"
	ActionCreateOrders    = "create_orders"
	ActionCompleteOrders  = "complete_orders"
	ActionCancelOrders    = "cancel_orders"
	ActionManageVendors   = "manage_vendors"
	ActionRecordMeters    = "record_meters"
	ActionViewExpenses    = "view_expenses"
)

// Principal is the caller of an operation, recorded in audit fields.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// SystemPrincipal is used when no caller identity is available.
var SystemPrincipal = Principal{Subject: "system", Role: RoleAdmin}

// Claims represents JWT claims
type Claims struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	Exp     int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a principal has permission for a specific action
func (p Principal) HasPermission(action string) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionDeleteTasks
	case RoleOperator:
		return action == ActionViewMaintenance || action == ActionViewExpenses ||
			action == ActionCreateOrders || action == ActionCompleteOrders ||
			action == ActionRecordMeters || action == ActionEditTasks
	case RoleViewer:
		return action == ActionViewMaintenance || action == ActionViewExpenses
	default:
		return false
	}
}

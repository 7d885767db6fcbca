package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"manager role", RoleManager, true},
		{"operator role", RoleOperator, true},
		{"viewer role", RoleViewer, true},
		{"invalid role", "invalid", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestPrincipal_HasPermission(t *testing.T) {
	admin := Principal{Subject: "a", Role: RoleAdmin}
	manager := Principal{Subject: "m", Role: RoleManager}
	operator := Principal{Subject: "o", Role: RoleOperator}
	viewer := Principal{Subject: "v", Role: RoleViewer}

	tests := []struct {
		name      string
		principal Principal
		action    string
		expected  bool
	}{
		// Admin permissions - should have all permissions
		{"admin can delete tasks", admin, ActionDeleteTasks, true},
		{"admin can cancel orders", admin, ActionCancelOrders, true},

		// Manager permissions - everything except deleting tasks
		{"manager cannot delete tasks", manager, ActionDeleteTasks, false},
		{"manager can manage schedules", manager, ActionManageSchedules, true},
		{"manager can cancel tasks", manager, ActionCancelTasks, true},

		// Operator permissions - limited to day-to-day order handling
		{"operator can create orders", operator, ActionCreateOrders, true},
		{"operator can complete orders", operator, ActionCompleteOrders, true},
		{"operator can record meters", operator, ActionRecordMeters, true},
		{"operator cannot cancel tasks", operator, ActionCancelTasks, false},
		{"operator cannot manage schedules", operator, ActionManageSchedules, false},

		// Viewer permissions - read-only access
		{"viewer can view maintenance", viewer, ActionViewMaintenance, true},
		{"viewer can view expenses", viewer, ActionViewExpenses, true},
		{"viewer cannot create orders", viewer, ActionCreateOrders, false},
		{"viewer cannot cancel tasks", viewer, ActionCancelTasks, false},

		{"unknown role has nothing", Principal{Role: "guest"}, ActionViewMaintenance, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.principal.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("Principal with role %s HasPermission(%s) = %v, want %v",
					tt.principal.Role, tt.action, result, tt.expected)
			}
		})
	}
}

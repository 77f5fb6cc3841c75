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
		{"supervisor role", RoleSupervisor, true},
		{"maintenance role", RoleMaintenance, true},
		{"driver role", RoleDriver, true},
		{"passenger role", RolePassenger, true},
		{"device role", RoleDevice, true},
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

func TestRole_HasPermission(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		action   string
		expected bool
	}{
		{"admin can manage system", RoleAdmin, "manage_system", true},
		{"admin can request ride", RoleAdmin, "request_ride", true},

		{"supervisor cannot manage system", RoleSupervisor, "manage_system", false},
		{"supervisor can view metrics", RoleSupervisor, "view_metrics", true},
		{"supervisor can request ride", RoleSupervisor, "request_ride", true},

		{"maintenance can view metrics", RoleMaintenance, "view_metrics", true},
		{"maintenance can publish telemetry", RoleMaintenance, "publish_telemetry", true},
		{"maintenance cannot request ride", RoleMaintenance, "request_ride", false},

		{"device can publish telemetry", RoleDevice, "publish_telemetry", true},
		{"driver can publish telemetry", RoleDriver, "publish_telemetry", true},
		{"device cannot view metrics", RoleDevice, "view_metrics", false},

		{"passenger can request ride", RolePassenger, "request_ride", true},
		{"passenger can cancel ride", RolePassenger, "cancel_ride", true},
		{"passenger cannot publish telemetry", RolePassenger, "publish_telemetry", false},

		{"unknown role has nothing", Role("ghost"), "view_fleet", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.role.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("Role %s HasPermission(%s) = %v, want %v",
					tt.role, tt.action, result, tt.expected)
			}
		})
	}
}

package models

// Role represents caller roles carried by a verified bearer credential
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleSupervisor  Role = "supervisor"
	RoleMaintenance Role = "maintenance_team"
	RoleDriver      Role = "driver"
	RolePassenger   Role = "passenger"
	RoleDevice      Role = "device"
)

// ClientType is the kind of real-time client declared on authentication
type ClientType string

const (
	ClientBus        ClientType = "bus"
	ClientDriver     ClientType = "driver"
	ClientPassenger  ClientType = "passenger"
	ClientSupervisor ClientType = "supervisor"
	ClientAdmin      ClientType = "admin"
)

// Claims represents verified credential claims
type Claims struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
	Exp     int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleMaintenance, RoleDriver, RolePassenger, RoleDevice:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return action != "manage_system"
	case RoleMaintenance:
		return action == "view_fleet" || action == "view_metrics" || action == "publish_telemetry"
	case RoleDriver, RoleDevice:
		return action == "view_fleet" || action == "publish_telemetry"
	case RolePassenger:
		return action == "view_fleet" || action == "request_ride" || action == "cancel_ride"
	default:
		return false
	}
}

package domain

import "time"

// EventName 实时推送事件名
type EventName string

const (
	EventPaymentCreated     EventName = "payment:created"
	EventPaymentFailed      EventName = "payment:failed"
	EventLeaseCreated       EventName = "lease:created"
	EventLeaseUpdated       EventName = "lease:updated"
	EventPropertyCreated    EventName = "property:created"
	EventPropertyDeleted    EventName = "property:deleted"
	EventUnitCreated        EventName = "unit:created"
	EventUnitDeleted        EventName = "unit:deleted"
	EventMaintenanceCreated EventName = "maintenance:created"
	EventMaintenanceUpdated EventName = "maintenance:updated"
	EventDashboardRefresh   EventName = "dashboard:refresh"
)

// AdminRoom 管理员房间，所有事件都会投递
const AdminRoom = "admin"

func TenantRoom(tenantID string) string     { return "tenant-" + tenantID }
func LandlordRoom(landlordID string) string { return "landlord-" + landlordID }

// RoomsFor 事件涉及的租客、房东以及 admin 房间
func RoomsFor(tenantID, landlordID string) []string {
	rooms := make([]string, 0, 3)
	if tenantID != "" {
		rooms = append(rooms, TenantRoom(tenantID))
	}
	if landlordID != "" {
		rooms = append(rooms, LandlordRoom(landlordID))
	}
	return append(rooms, AdminRoom)
}

// RoomsForIdentity 连接建立时加入的房间
func RoomsForIdentity(id Identity) []string {
	switch id.Role {
	case RoleAdmin:
		return []string{AdminRoom}
	case RoleLandlord:
		return []string{LandlordRoom(id.UserID)}
	case RoleTenant:
		if id.TenantID != "" {
			return []string{TenantRoom(id.TenantID)}
		}
	}
	return nil
}

// Event 领域事件（fire-and-forget，不持久化、不保证送达）
type Event struct {
	Name    EventName `json:"event"`
	Rooms   []string  `json:"rooms"`
	Payload any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

package domain

// Role 用户角色（扁平，无继承）
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleLandlord Role = "landlord"
	RoleTenant   Role = "tenant"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleLandlord || r == RoleTenant
}

// Capability 能力位
type Capability uint32

const (
	CapCreateLease Capability = 1 << iota
	CapSendLease
	CapSignLease // view / accept / reject
	CapTerminateLease
	CapViewLease
	CapRecordPayment
	CapInitiatePayment
	CapViewPayments
	CapExportStatement
	CapManageAll // admin: 跳过所有权校验
)

var roleCapabilities = map[Role]Capability{
	RoleAdmin: CapCreateLease | CapSendLease | CapTerminateLease | CapViewLease |
		CapRecordPayment | CapInitiatePayment | CapViewPayments | CapExportStatement | CapManageAll,
	RoleLandlord: CapCreateLease | CapSendLease | CapTerminateLease | CapViewLease |
		CapRecordPayment | CapViewPayments | CapExportStatement,
	RoleTenant: CapSignLease | CapViewLease | CapInitiatePayment | CapViewPayments | CapExportStatement,
}

// Capabilities 角色默认能力
func (r Role) Capabilities() Capability {
	return roleCapabilities[r]
}

// Has 是否包含全部给定能力
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Identity 已认证的调用方
// TenantID 仅 tenant 角色有值（tenants.id，而非 users.id）
type Identity struct {
	UserID   string
	Role     Role
	TenantID string
}

func (i Identity) Can(c Capability) bool {
	return i.Role.Capabilities().Has(c)
}

func (i Identity) IsAdmin() bool {
	return i.Can(CapManageAll)
}

// OwnsLease 租客拥有租约，或房东拥有租约所在物业
func (i Identity) OwnsLease(l *LeaseDetails) bool {
	if l == nil {
		return false
	}
	switch i.Role {
	case RoleTenant:
		return i.TenantID != "" && i.TenantID == l.TenantID
	case RoleLandlord:
		return i.UserID != "" && i.UserID == l.LandlordID
	}
	return false
}

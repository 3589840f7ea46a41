package domain

import (
	"database/sql"
	"time"
)

// LeaseStatus 租约状态
type LeaseStatus string

const (
	LeaseDraft      LeaseStatus = "draft"
	LeaseSent       LeaseStatus = "sent"
	LeaseViewed     LeaseStatus = "viewed"
	LeaseAccepted   LeaseStatus = "accepted"
	LeaseRejected   LeaseStatus = "rejected"
	LeaseActive     LeaseStatus = "active"
	LeaseTerminated LeaseStatus = "terminated"
	LeaseExpired    LeaseStatus = "expired"
)

// Valid 是否为已知状态
func (s LeaseStatus) Valid() bool {
	switch s {
	case LeaseDraft, LeaseSent, LeaseViewed, LeaseAccepted, LeaseRejected,
		LeaseActive, LeaseTerminated, LeaseExpired:
		return true
	}
	return false
}

// Terminal 终态不再允许任何迁移
func (s LeaseStatus) Terminal() bool {
	return s == LeaseRejected || s == LeaseTerminated || s == LeaseExpired
}

// Lease 租约领域模型（对应 leases 表）
type Lease struct {
	LeaseID       string      `db:"id"`
	TenantID      string      `db:"tenant_id"`
	UnitID        string      `db:"unit_id"`
	StartDate     time.Time   `db:"start_date"`
	EndDate       time.Time   `db:"end_date"`
	RentAmount    float64     `db:"rent_amount"`
	DepositAmount float64     `db:"deposit_amount"`
	Status        LeaseStatus `db:"status"`

	TenantSignature   sql.NullString `db:"tenant_signature"`
	TenantSignedAt    sql.NullTime   `db:"tenant_signed_at"`
	LandlordSignature sql.NullString `db:"landlord_signature"`
	LandlordSignedAt  sql.NullTime   `db:"landlord_signed_at"`

	SentAt      sql.NullTime `db:"sent_at"`
	ViewedAt    sql.NullTime `db:"viewed_at"`
	RespondedAt sql.NullTime `db:"responded_at"`

	RejectionReason   sql.NullString `db:"rejection_reason"`
	TerminationReason sql.NullString `db:"termination_reason"`
	TerminationDate   sql.NullTime   `db:"termination_date"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LeaseDetails 租约 + 归属信息（units/properties 关联查询）
// LandlordID 用于所有权校验与推送房间路由
type LeaseDetails struct {
	Lease
	PropertyID string `db:"property_id"`
	LandlordID string `db:"landlord_id"`
	UnitNumber string `db:"unit_number"`
}

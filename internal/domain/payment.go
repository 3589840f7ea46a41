package domain

import (
	"database/sql"
	"time"
)

// PaymentMethod 支付方式
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentMpesa        PaymentMethod = "mpesa"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentCard         PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentMpesa, PaymentCheque, PaymentCard:
		return true
	}
	return false
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Payment 支付记录（对应 payments 表）
type Payment struct {
	PaymentID       string         `db:"id"`
	LeaseID         string         `db:"lease_id"`
	TenantID        string         `db:"tenant_id"`
	Amount          float64        `db:"amount"`
	PaymentDate     time.Time      `db:"payment_date"`
	PaymentMethod   PaymentMethod  `db:"payment_method"`
	ReferenceNumber sql.NullString `db:"reference_number"`
	Status          PaymentStatus  `db:"status"`
	Notes           sql.NullString `db:"notes"`
	CreatedAt       time.Time      `db:"created_at"`
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rentdesk/internal/domain"
)

type PostgresPaymentsRepo struct {
	db *sql.DB
}

func NewPostgresPaymentsRepo(db *sql.DB) *PostgresPaymentsRepo {
	return &PostgresPaymentsRepo{db: db}
}

const paymentColumns = `
		id::text, lease_id::text, tenant_id::text, amount, payment_date,
		payment_method, reference_number, status, notes, created_at`

func scanPayment(s rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var method, status string
	if err := s.Scan(
		&p.PaymentID, &p.LeaseID, &p.TenantID, &p.Amount, &p.PaymentDate,
		&method, &p.ReferenceNumber, &status, &p.Notes, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.PaymentMethod = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

// insertPaymentSQL tenant_id 取自租约，且租约必须为 active
const insertPaymentSQL = `
	INSERT INTO payments (
		id, lease_id, tenant_id, amount, payment_date, payment_method,
		reference_number, status, notes, created_at
	)
	SELECT $1, l.id, l.tenant_id, $3, $4, $5, $6, $7, $8, $9
	FROM leases l
	WHERE l.id::text = $2 AND l.status = 'active'
	RETURNING ` + paymentColumns

func paymentArgs(p *domain.Payment) []any {
	return []any{
		p.PaymentID, p.LeaseID, p.Amount, p.PaymentDate, string(p.PaymentMethod),
		p.ReferenceNumber, string(p.Status), p.Notes, p.CreatedAt,
	}
}

func (r *PostgresPaymentsRepo) CreatePayment(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	if p == nil || p.PaymentID == "" || p.LeaseID == "" {
		return nil, fmt.Errorf("%w: payment id and lease id are required", domain.ErrValidation)
	}
	out, err := scanPayment(r.db.QueryRowContext(ctx, insertPaymentSQL, paymentArgs(p)...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: lease %s is not active", domain.ErrConflict, p.LeaseID)
	case isUniqueViolation(err):
		return nil, fmt.Errorf("%w: duplicate payment reference", domain.ErrConflict)
	case isCheckViolation(err):
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	case err != nil:
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return out, nil
}

func (r *PostgresPaymentsRepo) ListPaymentsByLease(ctx context.Context, leaseID string) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE lease_id::text = $1 ORDER BY payment_date, created_at`,
		leaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	out := []*domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

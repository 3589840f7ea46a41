package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"rentdesk/internal/domain"
)

type PostgresLeasesRepo struct {
	db *sql.DB
}

func NewPostgresLeasesRepo(db *sql.DB) *PostgresLeasesRepo {
	return &PostgresLeasesRepo{db: db}
}

const leaseColumns = `
		l.id::text, l.tenant_id::text, l.unit_id::text, l.start_date, l.end_date,
		l.rent_amount, l.deposit_amount, l.status,
		l.tenant_signature, l.tenant_signed_at, l.landlord_signature, l.landlord_signed_at,
		l.sent_at, l.viewed_at, l.responded_at,
		l.rejection_reason, l.termination_reason, l.termination_date,
		l.created_at, l.updated_at`

const leaseDetailsSelect = `
	SELECT ` + leaseColumns + `,
		u.property_id::text, p.landlord_id::text, u.unit_number
	FROM leases l
	JOIN units u ON u.id = l.unit_id
	JOIN properties p ON p.id = u.property_id`

func scanLeaseDetails(s rowScanner) (*domain.LeaseDetails, error) {
	var d domain.LeaseDetails
	var status string
	err := s.Scan(
		&d.LeaseID, &d.TenantID, &d.UnitID, &d.StartDate, &d.EndDate,
		&d.RentAmount, &d.DepositAmount, &status,
		&d.TenantSignature, &d.TenantSignedAt, &d.LandlordSignature, &d.LandlordSignedAt,
		&d.SentAt, &d.ViewedAt, &d.RespondedAt,
		&d.RejectionReason, &d.TerminationReason, &d.TerminationDate,
		&d.CreatedAt, &d.UpdatedAt,
		&d.PropertyID, &d.LandlordID, &d.UnitNumber,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.LeaseStatus(status)
	return &d, nil
}

func (r *PostgresLeasesRepo) CreateLease(ctx context.Context, lease *domain.Lease) (*domain.LeaseDetails, error) {
	if lease == nil || lease.LeaseID == "" {
		return nil, fmt.Errorf("%w: lease id is required", domain.ErrValidation)
	}

	// unit 已有 active 租约时不插入
	q := `
		INSERT INTO leases (
			id, tenant_id, unit_id, start_date, end_date, rent_amount, deposit_amount,
			status, landlord_signature, landlord_signed_at, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, 'draft', $8, $9, $10, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM leases WHERE unit_id = $3 AND status = 'active'
		)
		RETURNING id::text
	`
	var id string
	err := r.db.QueryRowContext(ctx, q,
		lease.LeaseID, lease.TenantID, lease.UnitID, lease.StartDate, lease.EndDate,
		lease.RentAmount, lease.DepositAmount,
		lease.LandlordSignature, lease.LandlordSignedAt, lease.CreatedAt,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: unit %s already has an active lease", domain.ErrConflict, lease.UnitID)
	case isForeignKeyViolation(err):
		return nil, fmt.Errorf("%w: unit or tenant does not exist", domain.ErrNotFound)
	case isCheckViolation(err):
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	case err != nil:
		return nil, fmt.Errorf("failed to create lease: %w", err)
	}
	return r.GetLease(ctx, id)
}

func (r *PostgresLeasesRepo) GetLease(ctx context.Context, leaseID string) (*domain.LeaseDetails, error) {
	if leaseID == "" {
		return nil, fmt.Errorf("%w: lease id is required", domain.ErrValidation)
	}
	row := r.db.QueryRowContext(ctx, leaseDetailsSelect+` WHERE l.id::text = $1`, leaseID)
	d, err := scanLeaseDetails(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: lease %s", domain.ErrNotFound, leaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return d, nil
}

func (r *PostgresLeasesRepo) ListLeases(ctx context.Context, filters LeaseFilters) ([]*domain.LeaseDetails, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if filters.TenantID != "" {
		where = append(where, fmt.Sprintf("l.tenant_id::text = $%d", argN))
		args = append(args, filters.TenantID)
		argN++
	}
	if filters.LandlordID != "" {
		where = append(where, fmt.Sprintf("p.landlord_id::text = $%d", argN))
		args = append(args, filters.LandlordID)
		argN++
	}
	if filters.UnitID != "" {
		where = append(where, fmt.Sprintf("l.unit_id::text = $%d", argN))
		args = append(args, filters.UnitID)
		argN++
	}
	if len(filters.Status) > 0 {
		where = append(where, fmt.Sprintf("l.status = ANY($%d)", argN))
		args = append(args, pq.Array(statusStrings(filters.Status)))
	}

	q := leaseDetailsSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY l.created_at DESC`
	return r.queryLeases(ctx, q, args...)
}

func (r *PostgresLeasesRepo) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]*domain.LeaseDetails, error) {
	if limit <= 0 {
		limit = 100
	}
	q := leaseDetailsSelect + `
		WHERE l.status = 'active' AND l.end_date < $1
		ORDER BY l.end_date
		LIMIT $2`
	return r.queryLeases(ctx, q, asOf, limit)
}

func (r *PostgresLeasesRepo) queryLeases(ctx context.Context, q string, args ...any) ([]*domain.LeaseDetails, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	out := []*domain.LeaseDetails{}
	for rows.Next() {
		d, err := scanLeaseDetails(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// transitionSet 按目标状态拼接 SET 子句，$1..$4 固定为 id/from/to/at
func transitionSet(t LeaseTransition) (string, []any) {
	set := []string{"status = $3", "updated_at = $4"}
	var extra []any
	switch t.To {
	case domain.LeaseSent:
		set = append(set, "sent_at = $4")
	case domain.LeaseViewed:
		set = append(set, "viewed_at = $4")
	case domain.LeaseActive:
		set = append(set, "tenant_signature = $5", "tenant_signed_at = $4", "responded_at = $4")
		extra = append(extra, t.TenantSignature)
	case domain.LeaseRejected:
		set = append(set, "rejection_reason = $5", "responded_at = $4")
		extra = append(extra, t.RejectionReason)
	case domain.LeaseTerminated:
		set = append(set, "termination_reason = $5", "termination_date = $6")
		extra = append(extra, t.TerminationReason, t.TerminationDate)
	}
	return strings.Join(set, ", "), extra
}

func (r *PostgresLeasesRepo) TransitionLease(ctx context.Context, t LeaseTransition) (*domain.LeaseDetails, error) {
	if t.LeaseID == "" || len(t.From) == 0 || !t.To.Valid() {
		return nil, fmt.Errorf("%w: incomplete lease transition", domain.ErrValidation)
	}

	set, extra := transitionSet(t)
	args := append([]any{t.LeaseID, pq.Array(statusStrings(t.From)), string(t.To), t.At}, extra...)

	cond := "id::text = $1 AND status = ANY($2)"
	if t.To == domain.LeaseViewed {
		// 仅首次查看生效
		cond += " AND viewed_at IS NULL"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var unitID string
	err = tx.QueryRowContext(ctx,
		`UPDATE leases SET `+set+` WHERE `+cond+` RETURNING unit_id::text`,
		args...,
	).Scan(&unitID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, r.transitionMiss(ctx, t)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: unit already has an active lease", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to transition lease: %w", err)
	}

	if t.UnitStatus != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE units SET status = $2 WHERE id::text = $1`,
			unitID, string(t.UnitStatus),
		); err != nil {
			return nil, fmt.Errorf("failed to update unit status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: unit already has an active lease", domain.ErrConflict)
		}
		return nil, err
	}
	return r.GetLease(ctx, t.LeaseID)
}

// transitionMiss 条件更新未命中：区分不存在与状态已变化
func (r *PostgresLeasesRepo) transitionMiss(ctx context.Context, t LeaseTransition) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM leases WHERE id::text = $1`, t.LeaseID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: lease %s", domain.ErrNotFound, t.LeaseID)
	}
	if err != nil {
		return fmt.Errorf("failed to read lease status: %w", err)
	}
	return fmt.Errorf("%w: lease %s is %s, cannot move to %s", domain.ErrConflict, t.LeaseID, status, t.To)
}

func statusStrings(in []domain.LeaseStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

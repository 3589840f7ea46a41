package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rentdesk/internal/domain"
)

type PostgresUnitsRepo struct {
	db *sql.DB
}

func NewPostgresUnitsRepo(db *sql.DB) *PostgresUnitsRepo {
	return &PostgresUnitsRepo{db: db}
}

func (r *PostgresUnitsRepo) GetUnit(ctx context.Context, unitID string) (*domain.Unit, error) {
	if unitID == "" {
		return nil, fmt.Errorf("%w: unit id is required", domain.ErrValidation)
	}
	q := `
		SELECT u.id::text, u.property_id::text, p.landlord_id::text, u.unit_number, u.rent_amount, u.status
		FROM units u
		JOIN properties p ON p.id = u.property_id
		WHERE u.id::text = $1
	`
	var u domain.Unit
	var status string
	err := r.db.QueryRowContext(ctx, q, unitID).Scan(
		&u.UnitID, &u.PropertyID, &u.LandlordID, &u.UnitNumber, &u.RentAmount, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unit %s", domain.ErrNotFound, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	u.Status = domain.UnitStatus(status)
	return &u, nil
}

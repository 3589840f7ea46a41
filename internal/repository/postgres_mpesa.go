package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rentdesk/internal/domain"
)

type PostgresMpesaRepo struct {
	db *sql.DB
}

func NewPostgresMpesaRepo(db *sql.DB) *PostgresMpesaRepo {
	return &PostgresMpesaRepo{db: db}
}

const mpesaColumns = `
		id::text, merchant_request_id, checkout_request_id, lease_id::text, tenant_id::text,
		phone_number, amount, account_reference, transaction_desc,
		mpesa_receipt_number, transaction_date, status, result_code, result_desc,
		callback_received, callback_payload, created_at, updated_at`

func scanMpesa(s rowScanner) (*domain.MpesaTransaction, error) {
	var t domain.MpesaTransaction
	var status string
	if err := s.Scan(
		&t.TransactionID, &t.MerchantRequestID, &t.CheckoutRequestID, &t.LeaseID, &t.TenantID,
		&t.PhoneNumber, &t.Amount, &t.AccountReference, &t.TransactionDesc,
		&t.MpesaReceiptNumber, &t.TransactionDate, &status, &t.ResultCode, &t.ResultDesc,
		&t.CallbackReceived, &t.CallbackPayload, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = domain.MpesaStatus(status)
	return &t, nil
}

func (r *PostgresMpesaRepo) CreateTransaction(ctx context.Context, t *domain.MpesaTransaction) (*domain.MpesaTransaction, error) {
	if t == nil || t.TransactionID == "" || t.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: transaction id and checkout request id are required", domain.ErrValidation)
	}
	q := `
		INSERT INTO mpesa_transactions (
			id, merchant_request_id, checkout_request_id, lease_id, tenant_id,
			phone_number, amount, account_reference, transaction_desc,
			status, callback_received, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', FALSE, $10, $10)
		RETURNING ` + mpesaColumns
	out, err := scanMpesa(r.db.QueryRowContext(ctx, q,
		t.TransactionID, t.MerchantRequestID, t.CheckoutRequestID, t.LeaseID, t.TenantID,
		t.PhoneNumber, t.Amount, t.AccountReference, t.TransactionDesc, t.CreatedAt,
	))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: checkout request %s already recorded", domain.ErrConflict, t.CheckoutRequestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create mpesa transaction: %w", err)
	}
	return out, nil
}

func (r *PostgresMpesaRepo) GetTransaction(ctx context.Context, transactionID string) (*domain.MpesaTransaction, error) {
	return r.getBy(ctx, "id::text", transactionID)
}

func (r *PostgresMpesaRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	return r.getBy(ctx, "checkout_request_id", checkoutRequestID)
}

func (r *PostgresMpesaRepo) getBy(ctx context.Context, column, value string) (*domain.MpesaTransaction, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, column)
	}
	out, err := scanMpesa(r.db.QueryRowContext(ctx,
		`SELECT `+mpesaColumns+` FROM mpesa_transactions WHERE `+column+` = $1`, value,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mpesa transaction %s", domain.ErrNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mpesa transaction: %w", err)
	}
	return out, nil
}

func (r *PostgresMpesaRepo) ApplyCallback(ctx context.Context, res domain.CallbackResult, at time.Time) (*domain.MpesaTransaction, *domain.Payment, error) {
	if res.CheckoutRequestID == "" {
		return nil, nil, fmt.Errorf("%w: checkout request id is required", domain.ErrValidation)
	}

	status := domain.MpesaFailed
	var receipt sql.NullString
	var txnDate sql.NullTime
	if res.Succeeded() {
		status = domain.MpesaCompleted
		receipt = nullString(res.ReceiptNumber)
		txnDate = nullTime(res.TransactionDate)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// callback_received = FALSE 保证同一回调只生效一次
	q := `
		UPDATE mpesa_transactions SET
			callback_received = TRUE,
			status = $2,
			result_code = $3,
			result_desc = $4,
			mpesa_receipt_number = COALESCE($5, mpesa_receipt_number),
			transaction_date = COALESCE($6, transaction_date),
			callback_payload = $7,
			updated_at = $8
		WHERE checkout_request_id = $1 AND callback_received = FALSE
		RETURNING ` + mpesaColumns
	txn, err := scanMpesa(tx.QueryRowContext(ctx, q,
		res.CheckoutRequestID, string(status), res.ResultCode, res.ResultDesc,
		receipt, txnDate, nullJSON(res.Raw), at,
	))
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, nil, r.callbackMiss(ctx, res.CheckoutRequestID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply callback: %w", err)
	}

	var payment *domain.Payment
	if status == domain.MpesaCompleted {
		payment = paymentFromTransaction(txn, res, at)
		q := `
			INSERT INTO payments (
				id, lease_id, tenant_id, amount, payment_date, payment_method,
				reference_number, status, notes, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING ` + paymentColumns
		payment, err = scanPayment(tx.QueryRowContext(ctx, q,
			payment.PaymentID, payment.LeaseID, payment.TenantID, payment.Amount, payment.PaymentDate,
			string(payment.PaymentMethod), payment.ReferenceNumber, string(payment.Status),
			payment.Notes, payment.CreatedAt,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, nil, fmt.Errorf("%w: receipt %s already recorded", domain.ErrDuplicateCallback, res.ReceiptNumber)
			}
			return nil, nil, fmt.Errorf("failed to create mpesa payment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return txn, payment, nil
}

func (r *PostgresMpesaRepo) callbackMiss(ctx context.Context, checkoutRequestID string) error {
	var received bool
	err := r.db.QueryRowContext(ctx,
		`SELECT callback_received FROM mpesa_transactions WHERE checkout_request_id = $1`,
		checkoutRequestID,
	).Scan(&received)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: checkout request %s", domain.ErrNotFound, checkoutRequestID)
	}
	if err != nil {
		return fmt.Errorf("failed to read mpesa transaction: %w", err)
	}
	return fmt.Errorf("%w: checkout request %s", domain.ErrDuplicateCallback, checkoutRequestID)
}

func (r *PostgresMpesaRepo) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.MpesaTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mpesaColumns+`
		FROM mpesa_transactions
		WHERE status = 'pending' AND callback_received = FALSE AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	out := []*domain.MpesaTransaction{}
	for rows.Next() {
		t, err := scanMpesa(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mpesa transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// paymentFromTransaction 成功回调对应的支付记录；金额始终取交易金额，网关回报不一致时记入 notes
func paymentFromTransaction(txn *domain.MpesaTransaction, res domain.CallbackResult, at time.Time) *domain.Payment {
	notes := "M-PESA STK push " + txn.CheckoutRequestID
	if res.Amount > 0 && res.Amount != txn.Amount {
		notes += fmt.Sprintf(" (gateway reported amount %s)", strconv.FormatFloat(res.Amount, 'f', -1, 64))
	}
	paidAt := res.TransactionDate
	if paidAt.IsZero() {
		paidAt = at
	}
	return &domain.Payment{
		PaymentID:       uuid.NewString(),
		LeaseID:         txn.LeaseID,
		TenantID:        txn.TenantID,
		Amount:          txn.Amount,
		PaymentDate:     paidAt,
		PaymentMethod:   domain.PaymentMpesa,
		ReferenceNumber: nullString(res.ReceiptNumber),
		Status:          domain.PaymentCompleted,
		Notes:           nullString(notes),
		CreatedAt:       at,
	}
}

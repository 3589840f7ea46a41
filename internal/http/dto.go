package httpapi

import (
	"database/sql"
	"time"

	"rentdesk/internal/domain"
)

const dateLayout = "2006-01-02"

func nullStr(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullTimeRFC(v sql.NullTime) any {
	if !v.Valid {
		return nil
	}
	return v.Time.UTC().Format(time.RFC3339)
}

func nullDate(v sql.NullTime) any {
	if !v.Valid {
		return nil
	}
	return v.Time.Format(dateLayout)
}

func leaseDTO(l *domain.LeaseDetails) map[string]any {
	return map[string]any{
		"id":                 l.LeaseID,
		"tenant_id":          l.TenantID,
		"unit_id":            l.UnitID,
		"unit_number":        l.UnitNumber,
		"property_id":        l.PropertyID,
		"landlord_id":        l.LandlordID,
		"start_date":         l.StartDate.Format(dateLayout),
		"end_date":           l.EndDate.Format(dateLayout),
		"rent_amount":        l.RentAmount,
		"deposit_amount":     l.DepositAmount,
		"status":             string(l.Status),
		"tenant_signature":   nullStr(l.TenantSignature),
		"tenant_signed_at":   nullTimeRFC(l.TenantSignedAt),
		"landlord_signature": nullStr(l.LandlordSignature),
		"landlord_signed_at": nullTimeRFC(l.LandlordSignedAt),
		"sent_at":            nullTimeRFC(l.SentAt),
		"viewed_at":          nullTimeRFC(l.ViewedAt),
		"responded_at":       nullTimeRFC(l.RespondedAt),
		"rejection_reason":   nullStr(l.RejectionReason),
		"termination_reason": nullStr(l.TerminationReason),
		"termination_date":   nullDate(l.TerminationDate),
		"created_at":         l.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":         l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func paymentDTO(p *domain.Payment) map[string]any {
	return map[string]any{
		"id":               p.PaymentID,
		"lease_id":         p.LeaseID,
		"tenant_id":        p.TenantID,
		"amount":           p.Amount,
		"payment_date":     p.PaymentDate.UTC().Format(time.RFC3339),
		"payment_method":   string(p.PaymentMethod),
		"reference_number": nullStr(p.ReferenceNumber),
		"status":           string(p.Status),
		"notes":            nullStr(p.Notes),
		"created_at":       p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// transactionDTO 轮询端读取 status / mpesa_receipt_number / result_desc
func transactionDTO(t *domain.MpesaTransaction) map[string]any {
	var resultCode any
	if t.ResultCode.Valid {
		resultCode = t.ResultCode.Int64
	}
	return map[string]any{
		"id":                   t.TransactionID,
		"merchant_request_id":  t.MerchantRequestID,
		"checkout_request_id":  t.CheckoutRequestID,
		"lease_id":             t.LeaseID,
		"tenant_id":            t.TenantID,
		"phone_number":         t.PhoneNumber,
		"amount":               t.Amount,
		"account_reference":    t.AccountReference,
		"transaction_desc":     t.TransactionDesc,
		"mpesa_receipt_number": nullStr(t.MpesaReceiptNumber),
		"transaction_date":     nullTimeRFC(t.TransactionDate),
		"status":               string(t.Status),
		"result_code":          resultCode,
		"result_desc":          nullStr(t.ResultDesc),
		"callback_received":    t.CallbackReceived,
		"created_at":           t.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":           t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

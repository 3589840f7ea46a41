package service

import (
	"context"
	"time"

	"rentdesk/internal/domain"
)

// EventPublisher 领域事件出口（fire-and-forget，实现方自行记录投递失败）
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func newEvent(name domain.EventName, rooms []string, payload any, at time.Time) domain.Event {
	return domain.Event{Name: name, Rooms: rooms, Payload: payload, At: at}
}

func leaseEventPayload(l *domain.LeaseDetails) map[string]any {
	return map[string]any{
		"lease_id":    l.LeaseID,
		"tenant_id":   l.TenantID,
		"unit_id":     l.UnitID,
		"unit_number": l.UnitNumber,
		"status":      string(l.Status),
	}
}

func paymentEventPayload(txn *domain.MpesaTransaction, p *domain.Payment) map[string]any {
	m := map[string]any{
		"transaction_id":      txn.TransactionID,
		"checkout_request_id": txn.CheckoutRequestID,
		"lease_id":            txn.LeaseID,
		"tenant_id":           txn.TenantID,
		"amount":              txn.Amount,
		"status":              string(txn.Status),
	}
	if txn.ResultDesc.Valid {
		m["result_desc"] = txn.ResultDesc.String
	}
	if txn.MpesaReceiptNumber.Valid {
		m["receipt_number"] = txn.MpesaReceiptNumber.String
	}
	if p != nil {
		m["payment_id"] = p.PaymentID
		m["amount"] = p.Amount
	}
	return m
}

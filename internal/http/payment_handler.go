package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/service"
)

// PaymentHandler 手工记账 / 收款查询 / 对账单导出
type PaymentHandler struct {
	payments service.PaymentService
	logger   *zap.Logger
}

func NewPaymentHandler(payments service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

type recordPaymentBody struct {
	LeaseID         string  `json:"lease_id"`
	Amount          float64 `json:"amount"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentDate     string  `json:"payment_date"`
	ReferenceNumber string  `json:"reference_number"`
	Notes           string  `json:"notes"`
}

func (h *PaymentHandler) Record(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body recordPaymentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	paidAt, err := parseDate("payment_date", body.PaymentDate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.payments.RecordPayment(r.Context(), service.RecordPaymentRequest{
		Actor:           actor,
		LeaseID:         body.LeaseID,
		Amount:          body.Amount,
		PaymentMethod:   domain.PaymentMethod(body.PaymentMethod),
		PaymentDate:     paidAt,
		ReferenceNumber: body.ReferenceNumber,
		Notes:           body.Notes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(paymentDTO(p)))
}

func (h *PaymentHandler) ListByLease(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	items, err := h.payments.ListLeasePayments(r.Context(), service.LeasePaymentsRequest{Actor: actor, LeaseID: r.PathValue("id")})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, p := range items {
		out = append(out, paymentDTO(p))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": len(out)}))
}

func (h *PaymentHandler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	file, err := h.payments.ExportLeaseStatement(r.Context(), service.LeasePaymentsRequest{Actor: actor, LeaseID: r.PathValue("id")})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
}

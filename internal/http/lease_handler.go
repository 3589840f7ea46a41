package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/service"
)

// LeaseHandler 租约生命周期 Handler
type LeaseHandler struct {
	leases service.LeaseService
	logger *zap.Logger
}

func NewLeaseHandler(leases service.LeaseService, logger *zap.Logger) *LeaseHandler {
	return &LeaseHandler{leases: leases, logger: logger}
}

type createLeaseBody struct {
	TenantID          string  `json:"tenant_id"`
	UnitID            string  `json:"unit_id"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	RentAmount        float64 `json:"rent_amount"`
	DepositAmount     float64 `json:"deposit_amount"`
	LandlordSignature string  `json:"landlord_signature"`
}

func (h *LeaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body createLeaseBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseDate("start_date", body.StartDate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := parseDate("end_date", body.EndDate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	lease, err := h.leases.CreateLease(r.Context(), service.CreateLeaseRequest{
		Actor:             actor,
		TenantID:          body.TenantID,
		UnitID:            body.UnitID,
		StartDate:         start,
		EndDate:           end,
		RentAmount:        body.RentAmount,
		DepositAmount:     body.DepositAmount,
		LandlordSignature: body.LandlordSignature,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(leaseDTO(lease)))
}

func (h *LeaseHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	items, err := h.leases.ListLeases(r.Context(), service.ListLeasesRequest{
		Actor:  actor,
		Status: splitQuery(r, "status"),
		UnitID: r.URL.Query().Get("unit_id"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, l := range items {
		out = append(out, leaseDTO(l))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": len(out)}))
}

func (h *LeaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	lease, err := h.leases.GetLease(r.Context(), service.GetLeaseRequest{Actor: actor, LeaseID: r.PathValue("id")})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	lease, err := h.leases.SendLease(r.Context(), service.LeaseActionRequest{Actor: actor, LeaseID: r.PathValue("id")})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) View(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	lease, err := h.leases.ViewLease(r.Context(), service.LeaseActionRequest{Actor: actor, LeaseID: r.PathValue("id")})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body struct {
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lease, err := h.leases.AcceptLease(r.Context(), service.AcceptLeaseRequest{
		Actor: actor, LeaseID: r.PathValue("id"), Signature: body.Signature,
	})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lease, err := h.leases.RejectLease(r.Context(), service.RejectLeaseRequest{
		Actor: actor, LeaseID: r.PathValue("id"), Reason: body.Reason,
	})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body struct {
		Reason          string `json:"reason"`
		TerminationDate string `json:"termination_date"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	date, err := parseDate("termination_date", body.TerminationDate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lease, err := h.leases.TerminateLease(r.Context(), service.TerminateLeaseRequest{
		Actor: actor, LeaseID: r.PathValue("id"), Reason: body.Reason, TerminationDate: date,
	})
	h.respond(w, r, lease, err)
}

func (h *LeaseHandler) respond(w http.ResponseWriter, r *http.Request, lease *domain.LeaseDetails, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(leaseDTO(lease)))
}

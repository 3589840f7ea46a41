package httpapi

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"rentdesk/internal/service"
)

// MpesaHandler STK Push 发起 / 查询 / 网关回调
// 这组接口沿用网关前端约定的响应格式，不使用 Result 包
type MpesaHandler struct {
	mpesa  service.MpesaService
	logger *zap.Logger
}

func NewMpesaHandler(mpesa service.MpesaService, logger *zap.Logger) *MpesaHandler {
	return &MpesaHandler{mpesa: mpesa, logger: logger}
}

type stkPushBody struct {
	PhoneNumber      string  `json:"phone_number"`
	Amount           float64 `json:"amount"`
	LeaseID          string  `json:"lease_id"`
	AccountReference string  `json:"account_reference"`
	TransactionDesc  string  `json:"transaction_desc"`
}

func (h *MpesaHandler) STKPush(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	var body stkPushBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.mpesa.InitiatePayment(r.Context(), service.InitiatePaymentRequest{
		Actor:            actor,
		PhoneNumber:      body.PhoneNumber,
		Amount:           body.Amount,
		LeaseID:          body.LeaseID,
		AccountReference: body.AccountReference,
		TransactionDesc:  body.TransactionDesc,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !resp.Success {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": resp.Error})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"transactionId":     resp.TransactionID,
		"checkoutRequestId": resp.CheckoutRequestID,
		"message":           resp.Message,
	})
}

func (h *MpesaHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := clientMessage(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("STK push request failed", zap.Int("status", status), zap.Error(err))
		message = "failed to initiate payment"
	}
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (h *MpesaHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFrom(r.Context())
	txn, err := h.mpesa.GetTransaction(r.Context(), service.GetTransactionRequest{
		Actor: actor, TransactionID: r.PathValue("id"),
	})
	if err != nil {
		status := statusFor(err)
		message := clientMessage(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("GetTransaction failed", zap.Error(err))
			message = "internal server error"
		}
		writeJSON(w, status, map[string]any{"error": message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": transactionDTO(txn)})
}

// Callback 网关回调（无鉴权）
// 结构合法即应答 Accepted（包括未知 / 重复回调）；结构非法 400；落库失败 500 让网关重试
func (h *MpesaHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ResultCode": 1, "ResultDesc": "Rejected: unreadable body"})
		return
	}

	res, err := service.ParseCallback(body)
	if err != nil {
		h.logger.Warn("Rejecting malformed M-PESA callback", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"ResultCode": 1, "ResultDesc": "Rejected: " + clientMessage(err)})
		return
	}

	if _, err := h.mpesa.HandleCallback(r.Context(), res); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ResultCode": 1, "ResultDesc": "Temporary failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/repository"
)

const (
	// Daraja 字段长度限制
	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13
)

// MpesaService STK Push 发起与回调对账服务接口
type MpesaService interface {
	InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error)
	GetTransaction(ctx context.Context, req GetTransactionRequest) (*domain.MpesaTransaction, error)
	// HandleCallback 幂等：未知 / 重复回调不返回错误，仅 Applied=false
	HandleCallback(ctx context.Context, res domain.CallbackResult) (*CallbackOutcome, error)
}

type mpesaService struct {
	gateway      MpesaGateway
	leases       repository.LeasesRepository
	transactions repository.MpesaTransactionsRepository
	publisher    EventPublisher
	logger       *zap.Logger
	now          func() time.Time
}

// NewMpesaService 创建 MpesaService 实例
func NewMpesaService(
	gateway MpesaGateway,
	leases repository.LeasesRepository,
	transactions repository.MpesaTransactionsRepository,
	publisher EventPublisher,
	logger *zap.Logger,
) MpesaService {
	return &mpesaService{
		gateway:      gateway,
		leases:       leases,
		transactions: transactions,
		publisher:    publisherOrNop(publisher),
		logger:       logger,
		now:          time.Now,
	}
}

// InitiatePaymentRequest 发起支付请求
type InitiatePaymentRequest struct {
	Actor            domain.Identity // 必填
	PhoneNumber      string          // 必填
	Amount           float64         // 必填，> 0
	LeaseID          string          // 必填，租约需为 active
	AccountReference string          // 可选，默认 unit 编号
	TransactionDesc  string          // 可选，默认 "Rent payment"
}

// InitiatePaymentResponse 发起支付响应；网关拒绝时 Success=false + Error（不落库）
type InitiatePaymentResponse struct {
	Success           bool
	TransactionID     string
	CheckoutRequestID string
	Message           string
	Error             string
}

// GetTransactionRequest 查询交易请求
type GetTransactionRequest struct {
	Actor         domain.Identity // 必填
	TransactionID string          // 必填
}

// CallbackOutcome 回调处理结果
type CallbackOutcome struct {
	Applied     bool
	Unknown     bool
	Duplicate   bool
	Transaction *domain.MpesaTransaction
	Payment     *domain.Payment
}

func (s *mpesaService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	if strings.TrimSpace(req.LeaseID) == "" {
		return nil, fmt.Errorf("%w: leaseId is required", domain.ErrValidation)
	}
	lease, err := s.leases.GetLease(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapInitiatePayment); err != nil {
		return nil, err
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", domain.ErrValidation)
	}
	amount, err := RoundAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if lease.Status != domain.LeaseActive {
		return nil, fmt.Errorf("%w: lease %s is %s, payments require an active lease", domain.ErrConflict, lease.LeaseID, lease.Status)
	}

	ref := clip(firstNonEmpty(req.AccountReference, lease.UnitNumber, "RENT"), maxAccountReferenceLen)
	desc := clip(firstNonEmpty(req.TransactionDesc, "Rent payment"), maxTransactionDescLen)

	push := s.gateway.InitiatePush(ctx, PushRequest{
		Phone:            phone,
		Amount:           float64(amount),
		AccountReference: ref,
		Description:      desc,
	})
	if !push.Success {
		s.logger.Warn("STK push not accepted",
			zap.String("lease_id", lease.LeaseID),
			zap.String("error", push.Error),
		)
		return &InitiatePaymentResponse{Success: false, Error: push.Error}, nil
	}

	now := s.now()
	txn, err := s.transactions.CreateTransaction(ctx, &domain.MpesaTransaction{
		TransactionID:     uuid.NewString(),
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		LeaseID:           lease.LeaseID,
		TenantID:          lease.TenantID,
		PhoneNumber:       phone,
		Amount:            float64(amount),
		AccountReference:  ref,
		TransactionDesc:   desc,
		Status:            domain.MpesaPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		// 推送已发出但本地未记录：回调将被视为未知
		s.logger.Error("Failed to persist pending mpesa transaction",
			zap.String("lease_id", lease.LeaseID),
			zap.String("checkout_request_id", push.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("STK push initiated",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("checkout_request_id", txn.CheckoutRequestID),
		zap.String("lease_id", txn.LeaseID),
		zap.Int64("amount", amount),
	)
	return &InitiatePaymentResponse{
		Success:           true,
		TransactionID:     txn.TransactionID,
		CheckoutRequestID: txn.CheckoutRequestID,
		Message:           firstNonEmpty(push.CustomerMessage, push.ResponseDescription),
	}, nil
}

func (s *mpesaService) GetTransaction(ctx context.Context, req GetTransactionRequest) (*domain.MpesaTransaction, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}
	txn, err := s.transactions.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	lease, err := s.leases.GetLease(ctx, txn.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapViewPayments); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *mpesaService) HandleCallback(ctx context.Context, res domain.CallbackResult) (*CallbackOutcome, error) {
	txn, payment, err := s.transactions.ApplyCallback(ctx, res, s.now())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Info("Discarding callback for unknown checkout request",
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.Int("result_code", res.ResultCode),
		)
		return &CallbackOutcome{Unknown: true}, nil
	case errors.Is(err, domain.ErrDuplicateCallback):
		s.logger.Debug("Discarding duplicate callback",
			zap.String("checkout_request_id", res.CheckoutRequestID),
		)
		return &CallbackOutcome{Duplicate: true}, nil
	case err != nil:
		s.logger.Error("Failed to apply mpesa callback",
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.Error(err),
		)
		return nil, err
	}

	if res.Amount > 0 && res.Amount != txn.Amount {
		s.logger.Warn("Callback amount differs from transaction amount",
			zap.String("transaction_id", txn.TransactionID),
			zap.Float64("transaction_amount", txn.Amount),
			zap.Float64("callback_amount", res.Amount),
		)
	}
	s.logger.Info("M-PESA callback applied",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("checkout_request_id", txn.CheckoutRequestID),
		zap.String("status", string(txn.Status)),
		zap.Int("result_code", res.ResultCode),
	)
	s.publishPayment(ctx, txn, payment)
	return &CallbackOutcome{Applied: true, Transaction: txn, Payment: payment}, nil
}

func (s *mpesaService) publishPayment(ctx context.Context, txn *domain.MpesaTransaction, payment *domain.Payment) {
	landlordID := ""
	if lease, err := s.leases.GetLease(ctx, txn.LeaseID); err == nil {
		landlordID = lease.LandlordID
	} else {
		s.logger.Warn("Lease lookup for payment event failed", zap.String("lease_id", txn.LeaseID), zap.Error(err))
	}
	rooms := domain.RoomsFor(txn.TenantID, landlordID)

	name := domain.EventPaymentFailed
	if txn.Status == domain.MpesaCompleted {
		name = domain.EventPaymentCreated
	}
	now := s.now()
	s.publisher.Publish(ctx, newEvent(name, rooms, paymentEventPayload(txn, payment), now))
	s.publisher.Publish(ctx, newEvent(domain.EventDashboardRefresh, rooms, nil, now))
}

// ---- callback parsing ----

type callbackEnvelope struct {
	Body *struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback 解析 Daraja STK 回调；缺少 CheckoutRequestID / ResultCode 时返回 ErrValidation
func ParseCallback(body []byte) (domain.CallbackResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.CallbackResult{}, fmt.Errorf("%w: malformed callback body: %v", domain.ErrValidation, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return domain.CallbackResult{}, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrValidation)
	}
	cb := env.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return domain.CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrValidation)
	}
	code, ok := flexInt(cb.ResultCode)
	if !ok {
		return domain.CallbackResult{}, fmt.Errorf("%w: missing ResultCode", domain.ErrValidation)
	}

	res := domain.CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
		Raw:               append([]byte(nil), body...),
	}
	if cb.CallbackMetadata == nil {
		return res, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		v, ok := itemValue(item.Value)
		if !ok {
			continue
		}
		switch item.Name {
		case "Amount":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				res.Amount = f
			}
		case "MpesaReceiptNumber":
			res.ReceiptNumber = v
		case "TransactionDate":
			if t, err := time.ParseInLocation(timestampLayout, v, eat); err == nil {
				res.TransactionDate = t
			}
		case "PhoneNumber":
			res.PhoneNumber = v
		}
	}
	return res, nil
}

// itemValue 元数据值可能是数字或字符串；无 Value 的项忽略
func itemValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

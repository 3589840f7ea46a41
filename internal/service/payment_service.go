package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/repository"
)

// PaymentService 手工记账 / 收款查询 / 对账单导出
type PaymentService interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*domain.Payment, error)
	ListLeasePayments(ctx context.Context, req LeasePaymentsRequest) ([]*domain.Payment, error)
	ExportLeaseStatement(ctx context.Context, req LeasePaymentsRequest) (*StatementFile, error)
}

type paymentService struct {
	leases    repository.LeasesRepository
	payments  repository.PaymentsRepository
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService 创建 PaymentService 实例
func NewPaymentService(leases repository.LeasesRepository, payments repository.PaymentsRepository, publisher EventPublisher, logger *zap.Logger) PaymentService {
	return &paymentService{
		leases:    leases,
		payments:  payments,
		publisher: publisherOrNop(publisher),
		logger:    logger,
		now:       time.Now,
	}
}

// RecordPaymentRequest 手工记账请求（现金、转账等）
type RecordPaymentRequest struct {
	Actor           domain.Identity      // 必填
	LeaseID         string               // 必填，租约需为 active
	Amount          float64              // 必填，> 0
	PaymentMethod   domain.PaymentMethod // 必填
	PaymentDate     time.Time            // 可选，默认当前时间
	ReferenceNumber string               // 可选
	Notes           string               // 可选
}

// LeasePaymentsRequest 租约收款查询 / 导出请求
type LeasePaymentsRequest struct {
	Actor   domain.Identity // 必填
	LeaseID string          // 必填
}

// StatementFile 导出文件
type StatementFile struct {
	FileName string
	Content  []byte
}

func (s *paymentService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*domain.Payment, error) {
	if strings.TrimSpace(req.LeaseID) == "" {
		return nil, fmt.Errorf("%w: lease_id is required", domain.ErrValidation)
	}
	lease, err := s.leases.GetLease(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapRecordPayment); err != nil {
		return nil, err
	}

	switch {
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be greater than 0", domain.ErrValidation)
	case !req.PaymentMethod.Valid():
		return nil, fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, req.PaymentMethod)
	}
	if lease.Status != domain.LeaseActive {
		return nil, fmt.Errorf("%w: lease %s is %s, payments require an active lease", domain.ErrConflict, lease.LeaseID, lease.Status)
	}

	now := s.now()
	paidAt := req.PaymentDate
	if paidAt.IsZero() {
		paidAt = now
	}
	p := &domain.Payment{
		PaymentID:     uuid.NewString(),
		LeaseID:       lease.LeaseID,
		TenantID:      lease.TenantID,
		Amount:        req.Amount,
		PaymentDate:   paidAt,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.PaymentCompleted,
		CreatedAt:     now,
	}
	if ref := strings.TrimSpace(req.ReferenceNumber); ref != "" {
		p.ReferenceNumber.String, p.ReferenceNumber.Valid = ref, true
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		p.Notes.String, p.Notes.Valid = notes, true
	}

	out, err := s.payments.CreatePayment(ctx, p)
	if err != nil {
		s.logger.Error("RecordPayment failed", zap.String("lease_id", lease.LeaseID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Payment recorded",
		zap.String("payment_id", out.PaymentID),
		zap.String("lease_id", out.LeaseID),
		zap.String("method", string(out.PaymentMethod)),
		zap.Float64("amount", out.Amount),
	)
	rooms := domain.RoomsFor(out.TenantID, lease.LandlordID)
	s.publisher.Publish(ctx, newEvent(domain.EventPaymentCreated, rooms, map[string]any{
		"payment_id": out.PaymentID,
		"lease_id":   out.LeaseID,
		"tenant_id":  out.TenantID,
		"amount":     out.Amount,
		"method":     string(out.PaymentMethod),
		"status":     string(out.Status),
	}, now))
	s.publisher.Publish(ctx, newEvent(domain.EventDashboardRefresh, rooms, nil, now))
	return out, nil
}

func (s *paymentService) ListLeasePayments(ctx context.Context, req LeasePaymentsRequest) ([]*domain.Payment, error) {
	_, items, err := s.leasePayments(ctx, req, domain.CapViewPayments)
	return items, err
}

func (s *paymentService) ExportLeaseStatement(ctx context.Context, req LeasePaymentsRequest) (*StatementFile, error) {
	lease, items, err := s.leasePayments(ctx, req, domain.CapExportStatement)
	if err != nil {
		return nil, err
	}
	content, err := GenerateLeaseStatement(lease, items)
	if err != nil {
		s.logger.Error("GenerateLeaseStatement failed", zap.String("lease_id", lease.LeaseID), zap.Error(err))
		return nil, err
	}
	name := fmt.Sprintf("lease_%s_statement_%s.xlsx", shortID(lease.LeaseID), s.now().Format("20060102"))
	return &StatementFile{FileName: name, Content: content}, nil
}

func (s *paymentService) leasePayments(ctx context.Context, req LeasePaymentsRequest, want domain.Capability) (*domain.LeaseDetails, []*domain.Payment, error) {
	if strings.TrimSpace(req.LeaseID) == "" {
		return nil, nil, fmt.Errorf("%w: lease_id is required", domain.ErrValidation)
	}
	lease, err := s.leases.GetLease(ctx, req.LeaseID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeLease(req.Actor, lease, want); err != nil {
		return nil, nil, err
	}
	items, err := s.payments.ListPaymentsByLease(ctx, lease.LeaseID)
	if err != nil {
		s.logger.Error("ListPaymentsByLease failed", zap.String("lease_id", lease.LeaseID), zap.Error(err))
		return nil, nil, err
	}
	return lease, items, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

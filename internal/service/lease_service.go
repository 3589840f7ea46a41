package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/repository"
)

// LeaseService 租约生命周期服务接口
// 每个操作都在服务内重新校验角色能力与所有权，不依赖路由层授权
// 校验顺序：not found → forbidden → validation → invalid transition → conflict
type LeaseService interface {
	// 查询
	GetLease(ctx context.Context, req GetLeaseRequest) (*domain.LeaseDetails, error)
	ListLeases(ctx context.Context, req ListLeasesRequest) ([]*domain.LeaseDetails, error)

	// 创建（draft）
	CreateLease(ctx context.Context, req CreateLeaseRequest) (*domain.LeaseDetails, error)

	// 状态迁移
	SendLease(ctx context.Context, req LeaseActionRequest) (*domain.LeaseDetails, error)
	ViewLease(ctx context.Context, req LeaseActionRequest) (*domain.LeaseDetails, error)
	AcceptLease(ctx context.Context, req AcceptLeaseRequest) (*domain.LeaseDetails, error)
	RejectLease(ctx context.Context, req RejectLeaseRequest) (*domain.LeaseDetails, error)
	TerminateLease(ctx context.Context, req TerminateLeaseRequest) (*domain.LeaseDetails, error)

	// 系统动作（后台任务调用，无 actor）
	ExpireLease(ctx context.Context, leaseID string) (*domain.LeaseDetails, error)
}

// leaseService 实现
type leaseService struct {
	leases    repository.LeasesRepository
	units     repository.UnitsRepository
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewLeaseService 创建 LeaseService 实例
func NewLeaseService(leases repository.LeasesRepository, units repository.UnitsRepository, publisher EventPublisher, logger *zap.Logger) LeaseService {
	return &leaseService{
		leases:    leases,
		units:     units,
		publisher: publisherOrNop(publisher),
		logger:    logger,
		now:       time.Now,
	}
}

// GetLeaseRequest 查询租约详情请求
type GetLeaseRequest struct {
	Actor   domain.Identity // 必填
	LeaseID string          // 必填
}

// ListLeasesRequest 查询租约列表请求（范围由 actor 决定）
type ListLeasesRequest struct {
	Actor  domain.Identity // 必填
	Status []string        // 可选
	UnitID string          // 可选
}

// CreateLeaseRequest 创建租约请求
type CreateLeaseRequest struct {
	Actor             domain.Identity // 必填
	TenantID          string          // 必填
	UnitID            string          // 必填
	StartDate         time.Time       // 必填
	EndDate           time.Time       // 必填，晚于 StartDate
	RentAmount        float64         // 必填，> 0
	DepositAmount     float64         // 可选，>= 0
	LandlordSignature string          // 可选
}

// LeaseActionRequest send / view 请求
type LeaseActionRequest struct {
	Actor   domain.Identity // 必填
	LeaseID string          // 必填
}

// AcceptLeaseRequest 租客签署请求
type AcceptLeaseRequest struct {
	Actor     domain.Identity // 必填
	LeaseID   string          // 必填
	Signature string          // 必填，trim 后至少 2 个字符
}

// RejectLeaseRequest 租客拒绝请求
type RejectLeaseRequest struct {
	Actor   domain.Identity // 必填
	LeaseID string          // 必填
	Reason  string          // 必填，trim 后至少 10 个字符
}

// TerminateLeaseRequest 终止租约请求
type TerminateLeaseRequest struct {
	Actor           domain.Identity // 必填
	LeaseID         string          // 必填
	Reason          string          // 必填，trim 后至少 10 个字符
	TerminationDate time.Time       // 可选，默认今天
}

func (s *leaseService) GetLease(ctx context.Context, req GetLeaseRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapViewLease); err != nil {
		return nil, err
	}
	return lease, nil
}

func (s *leaseService) ListLeases(ctx context.Context, req ListLeasesRequest) ([]*domain.LeaseDetails, error) {
	if !req.Actor.Can(domain.CapViewLease) {
		return nil, fmt.Errorf("%w: cannot list leases", domain.ErrForbidden)
	}

	filters := repository.LeaseFilters{UnitID: strings.TrimSpace(req.UnitID)}
	switch {
	case req.Actor.Can(domain.CapManageAll):
	case req.Actor.Role == domain.RoleLandlord:
		filters.LandlordID = req.Actor.UserID
	case req.Actor.Role == domain.RoleTenant && req.Actor.TenantID != "":
		filters.TenantID = req.Actor.TenantID
	default:
		return nil, fmt.Errorf("%w: cannot list leases", domain.ErrForbidden)
	}

	for _, raw := range req.Status {
		for _, part := range strings.Split(raw, ",") {
			st := domain.LeaseStatus(strings.TrimSpace(part))
			if st == "" {
				continue
			}
			if !st.Valid() {
				return nil, fmt.Errorf("%w: unknown lease status %q", domain.ErrValidation, st)
			}
			filters.Status = append(filters.Status, st)
		}
	}

	items, err := s.leases.ListLeases(ctx, filters)
	if err != nil {
		s.logger.Error("ListLeases failed", zap.String("user_id", req.Actor.UserID), zap.Error(err))
		return nil, err
	}
	return items, nil
}

func (s *leaseService) CreateLease(ctx context.Context, req CreateLeaseRequest) (*domain.LeaseDetails, error) {
	if strings.TrimSpace(req.UnitID) == "" {
		return nil, fmt.Errorf("%w: unit_id is required", domain.ErrValidation)
	}
	unit, err := s.units.GetUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}
	if !req.Actor.Can(domain.CapCreateLease) ||
		(!req.Actor.Can(domain.CapManageAll) && unit.LandlordID != req.Actor.UserID) {
		return nil, fmt.Errorf("%w: cannot create a lease on unit %s", domain.ErrForbidden, req.UnitID)
	}

	if err := validateCreateLease(req); err != nil {
		return nil, err
	}

	now := s.now()
	lease := &domain.Lease{
		LeaseID:       uuid.NewString(),
		TenantID:      strings.TrimSpace(req.TenantID),
		UnitID:        unit.UnitID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		RentAmount:    req.RentAmount,
		DepositAmount: req.DepositAmount,
		Status:        domain.LeaseDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sig := strings.TrimSpace(req.LandlordSignature); sig != "" {
		if _, err := domain.ValidateSignature(sig); err != nil {
			return nil, err
		}
		lease.LandlordSignature.String, lease.LandlordSignature.Valid = sig, true
		lease.LandlordSignedAt.Time, lease.LandlordSignedAt.Valid = now, true
	}

	created, err := s.leases.CreateLease(ctx, lease)
	if err != nil {
		s.logError("CreateLease failed", lease.LeaseID, err)
		return nil, err
	}

	s.logger.Info("Lease created",
		zap.String("lease_id", created.LeaseID),
		zap.String("unit_id", created.UnitID),
		zap.String("tenant_id", created.TenantID),
	)
	s.publisher.Publish(ctx, newEvent(domain.EventLeaseCreated,
		domain.RoomsFor(created.TenantID, created.LandlordID), leaseEventPayload(created), now))
	return created, nil
}

func validateCreateLease(req CreateLeaseRequest) error {
	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	case req.StartDate.IsZero() || req.EndDate.IsZero():
		return fmt.Errorf("%w: start_date and end_date are required", domain.ErrValidation)
	case !req.EndDate.After(req.StartDate):
		return fmt.Errorf("%w: end_date must be after start_date", domain.ErrValidation)
	case req.RentAmount <= 0:
		return fmt.Errorf("%w: rent_amount must be greater than 0", domain.ErrValidation)
	case req.DepositAmount < 0:
		return fmt.Errorf("%w: deposit_amount cannot be negative", domain.ErrValidation)
	}
	return nil
}

func (s *leaseService) SendLease(ctx context.Context, req LeaseActionRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapSendLease); err != nil {
		return nil, err
	}
	out, err := s.transition(ctx, lease, domain.ActionSend, repository.LeaseTransition{})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, false)
	return out, nil
}

// ViewLease 首次查看时 sent → viewed；已是 viewed 时直接返回
func (s *leaseService) ViewLease(ctx context.Context, req LeaseActionRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapSignLease); err != nil {
		return nil, err
	}
	if lease.Status == domain.LeaseViewed {
		return lease, nil
	}
	out, err := s.transition(ctx, lease, domain.ActionView, repository.LeaseTransition{})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, false)
	return out, nil
}

// AcceptLease 签署并直接生效（accepted → active 合并为一步），unit 置为 occupied
func (s *leaseService) AcceptLease(ctx context.Context, req AcceptLeaseRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapSignLease); err != nil {
		return nil, err
	}
	signature, err := domain.ValidateSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	out, err := s.transition(ctx, lease, domain.ActionAccept, repository.LeaseTransition{
		TenantSignature: signature,
		UnitStatus:      domain.UnitOccupied,
	})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, true)
	return out, nil
}

func (s *leaseService) RejectLease(ctx context.Context, req RejectLeaseRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapSignLease); err != nil {
		return nil, err
	}
	reason, err := domain.ValidateReason("reason", req.Reason)
	if err != nil {
		return nil, err
	}
	out, err := s.transition(ctx, lease, domain.ActionReject, repository.LeaseTransition{RejectionReason: reason})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, false)
	return out, nil
}

func (s *leaseService) TerminateLease(ctx context.Context, req TerminateLeaseRequest) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeLease(req.Actor, lease, domain.CapTerminateLease); err != nil {
		return nil, err
	}
	reason, err := domain.ValidateReason("reason", req.Reason)
	if err != nil {
		return nil, err
	}
	date := req.TerminationDate
	if date.IsZero() {
		date = startOfDay(s.now())
	}
	out, err := s.transition(ctx, lease, domain.ActionTerminate, repository.LeaseTransition{
		TerminationReason: reason,
		TerminationDate:   date,
		UnitStatus:        domain.UnitVacant,
	})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, true)
	return out, nil
}

func (s *leaseService) ExpireLease(ctx context.Context, leaseID string) (*domain.LeaseDetails, error) {
	lease, err := s.load(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status == domain.LeaseActive && !lease.EndDate.Before(startOfDay(s.now())) {
		return nil, fmt.Errorf("%w: lease %s ends on %s", domain.ErrValidation, leaseID, lease.EndDate.Format("2006-01-02"))
	}
	out, err := s.transition(ctx, lease, domain.ActionExpire, repository.LeaseTransition{UnitStatus: domain.UnitVacant})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, out, true)
	return out, nil
}

func (s *leaseService) load(ctx context.Context, leaseID string) (*domain.LeaseDetails, error) {
	if strings.TrimSpace(leaseID) == "" {
		return nil, fmt.Errorf("%w: lease_id is required", domain.ErrValidation)
	}
	return s.leases.GetLease(ctx, leaseID)
}

// transition 先用状态机判定（InvalidTransition），再交给仓储做条件更新（Conflict）
func (s *leaseService) transition(ctx context.Context, lease *domain.LeaseDetails, action domain.LeaseAction, t repository.LeaseTransition) (*domain.LeaseDetails, error) {
	to, err := lease.NextStatus(action)
	if err != nil {
		return nil, err
	}
	from, _, _ := domain.TransitionFor(action)

	t.LeaseID = lease.LeaseID
	t.From = from
	t.To = to
	t.At = s.now()

	out, err := s.leases.TransitionLease(ctx, t)
	if err != nil {
		s.logError("TransitionLease failed", lease.LeaseID, err, zap.String("action", string(action)))
		return nil, err
	}
	s.logger.Info("Lease transitioned",
		zap.String("lease_id", out.LeaseID),
		zap.String("action", string(action)),
		zap.String("from", string(lease.Status)),
		zap.String("to", string(out.Status)),
	)
	return out, nil
}

func (s *leaseService) publishUpdated(ctx context.Context, l *domain.LeaseDetails, refresh bool) {
	rooms := domain.RoomsFor(l.TenantID, l.LandlordID)
	now := s.now()
	s.publisher.Publish(ctx, newEvent(domain.EventLeaseUpdated, rooms, leaseEventPayload(l), now))
	if refresh {
		s.publisher.Publish(ctx, newEvent(domain.EventDashboardRefresh, rooms, nil, now))
	}
}

// logError 业务错误记 info，其余记 error
func (s *leaseService) logError(msg, leaseID string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("lease_id", leaseID), zap.Error(err))
	if isDomainError(err) {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

// authorizeLease 能力 + 所有权（CapManageAll 跳过所有权）
func authorizeLease(actor domain.Identity, lease *domain.LeaseDetails, want domain.Capability) error {
	if !actor.Can(want) {
		return fmt.Errorf("%w: role %q cannot perform this action", domain.ErrForbidden, actor.Role)
	}
	if actor.Can(domain.CapManageAll) || actor.OwnsLease(lease) {
		return nil
	}
	return fmt.Errorf("%w: lease %s does not belong to the caller", domain.ErrForbidden, lease.LeaseID)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation, domain.ErrForbidden, domain.ErrInvalidTransition,
		domain.ErrConflict, domain.ErrNotFound, domain.ErrDuplicateCallback,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rentdesk/internal/domain"
)

// MemoryStore: DB 未启用时的内存实现（本地联调与测试使用）
// - 四个仓储共用一把锁，迁移 / 回调与支付写入天然原子
// - 与 Postgres 实现保持相同的条件更新语义与错误类型
type MemoryStore struct {
	mu sync.RWMutex

	properties map[string]string // propertyID -> landlordID
	units      map[string]domain.Unit
	tenants    map[string]bool

	leases       map[string]domain.Lease
	payments     map[string][]domain.Payment // leaseID -> payments
	receipts     map[string]bool             // mpesa receipt numbers
	transactions map[string]domain.MpesaTransaction
	checkouts    map[string]string // checkoutRequestID -> transactionID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		properties:   map[string]string{},
		units:        map[string]domain.Unit{},
		tenants:      map[string]bool{},
		leases:       map[string]domain.Lease{},
		payments:     map[string][]domain.Payment{},
		receipts:     map[string]bool{},
		transactions: map[string]domain.MpesaTransaction{},
		checkouts:    map[string]string{},
	}
}

// Store 以 MemoryStore 填充全部仓储
func (m *MemoryStore) Store() Store {
	return Store{Leases: m, Units: m, Payments: m, Transactions: m}
}

// ---- seed ----

func (m *MemoryStore) AddProperty(propertyID, landlordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[propertyID] = landlordID
}

// AddUnit LandlordID 以所属 property 为准
func (m *MemoryStore) AddUnit(u domain.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	landlordID, ok := m.properties[u.PropertyID]
	if !ok {
		return fmt.Errorf("%w: property %s", domain.ErrNotFound, u.PropertyID)
	}
	u.LandlordID = landlordID
	if u.Status == "" {
		u.Status = domain.UnitVacant
	}
	m.units[u.UnitID] = u
	return nil
}

func (m *MemoryStore) AddTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = true
}

// ---- units ----

func (m *MemoryStore) GetUnit(_ context.Context, unitID string) (*domain.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: unit %s", domain.ErrNotFound, unitID)
	}
	return &u, nil
}

// ---- leases ----

func (m *MemoryStore) details(l domain.Lease) *domain.LeaseDetails {
	u := m.units[l.UnitID]
	return &domain.LeaseDetails{
		Lease:      l,
		PropertyID: u.PropertyID,
		LandlordID: u.LandlordID,
		UnitNumber: u.UnitNumber,
	}
}

func (m *MemoryStore) hasActiveLease(unitID string) bool {
	for _, l := range m.leases {
		if l.UnitID == unitID && l.Status == domain.LeaseActive {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateLease(_ context.Context, lease *domain.Lease) (*domain.LeaseDetails, error) {
	if lease == nil || lease.LeaseID == "" {
		return nil, fmt.Errorf("%w: lease id is required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.units[lease.UnitID]; !ok || !m.tenants[lease.TenantID] {
		return nil, fmt.Errorf("%w: unit or tenant does not exist", domain.ErrNotFound)
	}
	if _, ok := m.leases[lease.LeaseID]; ok {
		return nil, fmt.Errorf("%w: lease %s already exists", domain.ErrConflict, lease.LeaseID)
	}
	if m.hasActiveLease(lease.UnitID) {
		return nil, fmt.Errorf("%w: unit %s already has an active lease", domain.ErrConflict, lease.UnitID)
	}

	l := *lease
	l.Status = domain.LeaseDraft
	l.UpdatedAt = l.CreatedAt
	m.leases[l.LeaseID] = l
	return m.details(l), nil
}

func (m *MemoryStore) GetLease(_ context.Context, leaseID string) (*domain.LeaseDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[leaseID]
	if !ok {
		return nil, fmt.Errorf("%w: lease %s", domain.ErrNotFound, leaseID)
	}
	return m.details(l), nil
}

func (m *MemoryStore) ListLeases(_ context.Context, filters LeaseFilters) ([]*domain.LeaseDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*domain.LeaseDetails{}
	for _, l := range m.leases {
		d := m.details(l)
		if filters.TenantID != "" && d.TenantID != filters.TenantID {
			continue
		}
		if filters.LandlordID != "" && d.LandlordID != filters.LandlordID {
			continue
		}
		if filters.UnitID != "" && d.UnitID != filters.UnitID {
			continue
		}
		if len(filters.Status) > 0 && !containsStatus(filters.Status, d.Status) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LeaseID < out[j].LeaseID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListExpirable(_ context.Context, asOf time.Time, limit int) ([]*domain.LeaseDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*domain.LeaseDetails{}
	for _, l := range m.leases {
		if l.Status == domain.LeaseActive && l.EndDate.Before(asOf) {
			out = append(out, m.details(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TransitionLease(_ context.Context, t LeaseTransition) (*domain.LeaseDetails, error) {
	if t.LeaseID == "" || len(t.From) == 0 || !t.To.Valid() {
		return nil, fmt.Errorf("%w: incomplete lease transition", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[t.LeaseID]
	if !ok {
		return nil, fmt.Errorf("%w: lease %s", domain.ErrNotFound, t.LeaseID)
	}
	if !containsStatus(t.From, l.Status) || (t.To == domain.LeaseViewed && l.ViewedAt.Valid) {
		return nil, fmt.Errorf("%w: lease %s is %s, cannot move to %s", domain.ErrConflict, t.LeaseID, l.Status, t.To)
	}
	if t.To == domain.LeaseActive && m.hasActiveLease(l.UnitID) {
		return nil, fmt.Errorf("%w: unit already has an active lease", domain.ErrConflict)
	}

	at := nullTime(t.At)
	switch t.To {
	case domain.LeaseSent:
		l.SentAt = at
	case domain.LeaseViewed:
		l.ViewedAt = at
	case domain.LeaseActive:
		l.TenantSignature = nullString(t.TenantSignature)
		l.TenantSignedAt = at
		l.RespondedAt = at
	case domain.LeaseRejected:
		l.RejectionReason = nullString(t.RejectionReason)
		l.RespondedAt = at
	case domain.LeaseTerminated:
		l.TerminationReason = nullString(t.TerminationReason)
		l.TerminationDate = nullTime(t.TerminationDate)
	}
	l.Status = t.To
	l.UpdatedAt = t.At
	m.leases[l.LeaseID] = l

	if t.UnitStatus != "" {
		if u, ok := m.units[l.UnitID]; ok {
			u.Status = t.UnitStatus
			m.units[u.UnitID] = u
		}
	}
	return m.details(l), nil
}

// ---- payments ----

func (m *MemoryStore) CreatePayment(_ context.Context, p *domain.Payment) (*domain.Payment, error) {
	if p == nil || p.PaymentID == "" || p.LeaseID == "" {
		return nil, fmt.Errorf("%w: payment id and lease id are required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[p.LeaseID]
	if !ok || l.Status != domain.LeaseActive {
		return nil, fmt.Errorf("%w: lease %s is not active", domain.ErrConflict, p.LeaseID)
	}
	out := *p
	out.TenantID = l.TenantID
	if err := m.insertPayment(out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MemoryStore) insertPayment(p domain.Payment) error {
	if p.PaymentMethod == domain.PaymentMpesa && p.ReferenceNumber.Valid {
		if m.receipts[p.ReferenceNumber.String] {
			return fmt.Errorf("%w: duplicate payment reference", domain.ErrConflict)
		}
		m.receipts[p.ReferenceNumber.String] = true
	}
	m.payments[p.LeaseID] = append(m.payments[p.LeaseID], p)
	return nil
}

func (m *MemoryStore) ListPaymentsByLease(_ context.Context, leaseID string) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Payment, 0, len(m.payments[leaseID]))
	for i := range m.payments[leaseID] {
		p := m.payments[leaseID][i]
		out = append(out, &p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaymentDate.Before(out[j].PaymentDate) })
	return out, nil
}

// ---- mpesa transactions ----

func (m *MemoryStore) CreateTransaction(_ context.Context, t *domain.MpesaTransaction) (*domain.MpesaTransaction, error) {
	if t == nil || t.TransactionID == "" || t.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: transaction id and checkout request id are required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checkouts[t.CheckoutRequestID]; ok {
		return nil, fmt.Errorf("%w: checkout request %s already recorded", domain.ErrConflict, t.CheckoutRequestID)
	}
	out := *t
	out.Status = domain.MpesaPending
	out.CallbackReceived = false
	out.UpdatedAt = out.CreatedAt
	m.transactions[out.TransactionID] = out
	m.checkouts[out.CheckoutRequestID] = out.TransactionID
	return &out, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, transactionID string) (*domain.MpesaTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: mpesa transaction %s", domain.ErrNotFound, transactionID)
	}
	return &t, nil
}

func (m *MemoryStore) GetByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.checkouts[checkoutRequestID]
	if !ok {
		return nil, fmt.Errorf("%w: mpesa transaction %s", domain.ErrNotFound, checkoutRequestID)
	}
	t := m.transactions[id]
	return &t, nil
}

func (m *MemoryStore) ApplyCallback(_ context.Context, res domain.CallbackResult, at time.Time) (*domain.MpesaTransaction, *domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.checkouts[res.CheckoutRequestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: checkout request %s", domain.ErrNotFound, res.CheckoutRequestID)
	}
	t := m.transactions[id]
	if t.CallbackReceived {
		return nil, nil, fmt.Errorf("%w: checkout request %s", domain.ErrDuplicateCallback, res.CheckoutRequestID)
	}

	t.CallbackReceived = true
	t.ResultCode.Int64, t.ResultCode.Valid = int64(res.ResultCode), true
	t.ResultDesc = nullString(res.ResultDesc)
	t.CallbackPayload = append([]byte(nil), res.Raw...)
	t.UpdatedAt = at

	var payment *domain.Payment
	if res.Succeeded() {
		t.Status = domain.MpesaCompleted
		if res.ReceiptNumber != "" {
			t.MpesaReceiptNumber = nullString(res.ReceiptNumber)
		}
		if !res.TransactionDate.IsZero() {
			t.TransactionDate = nullTime(res.TransactionDate)
		}
		payment = paymentFromTransaction(&t, res, at)
		if err := m.insertPayment(*payment); err != nil {
			return nil, nil, fmt.Errorf("%w: receipt %s already recorded", domain.ErrDuplicateCallback, res.ReceiptNumber)
		}
	} else {
		t.Status = domain.MpesaFailed
	}

	m.transactions[t.TransactionID] = t
	return &t, payment, nil
}

func (m *MemoryStore) ListPending(_ context.Context, olderThan time.Time, limit int) ([]*domain.MpesaTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*domain.MpesaTransaction{}
	for _, t := range m.transactions {
		if t.Status == domain.MpesaPending && !t.CallbackReceived && t.CreatedAt.Before(olderThan) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsStatus(list []domain.LeaseStatus, s domain.LeaseStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentdesk/internal/domain"
	"rentdesk/internal/repository"
)

// MockGateway 是 MpesaGateway 的 mock 实现
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiatePush(ctx context.Context, req PushRequest) PushResult {
	args := m.Called(req)
	return args.Get(0).(PushResult)
}

func (m *MockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	args := m.Called(checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueryResult), args.Error(1)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) names() []domain.EventName {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventName, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

var (
	landlordActor = domain.Identity{UserID: "landlord-1", Role: domain.RoleLandlord}
	otherLandlord = domain.Identity{UserID: "landlord-2", Role: domain.RoleLandlord}
	tenantActor   = domain.Identity{UserID: "user-t1", Role: domain.RoleTenant, TenantID: "tenant-1"}
	otherTenant   = domain.Identity{UserID: "user-t2", Role: domain.RoleTenant, TenantID: "tenant-2"}
	adminActor    = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}
)

type fixture struct {
	store    *repository.MemoryStore
	gateway  *MockGateway
	pub      *recordingPublisher
	leases   *leaseService
	mpesa    *mpesaService
	payments *paymentService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := repository.NewMemoryStore()
	st.AddProperty("property-1", "landlord-1")
	require.NoError(t, st.AddUnit(domain.Unit{UnitID: "unit-1", PropertyID: "property-1", UnitNumber: "A1", RentAmount: 2500}))
	require.NoError(t, st.AddUnit(domain.Unit{UnitID: "unit-2", PropertyID: "property-1", UnitNumber: "A2", RentAmount: 3000}))
	st.AddTenant("tenant-1")
	st.AddTenant("tenant-2")

	f := &fixture{
		store:   st,
		gateway: &MockGateway{},
		pub:     &recordingPublisher{},
		now:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.leases = NewLeaseService(st, st, f.pub, zap.NewNop()).(*leaseService)
	f.leases.now = clock
	f.mpesa = NewMpesaService(f.gateway, st, st, f.pub, zap.NewNop()).(*mpesaService)
	f.mpesa.now = clock
	f.payments = NewPaymentService(st, st, f.pub, zap.NewNop()).(*paymentService)
	f.payments.now = clock
	return f
}

func (f *fixture) createLease(t *testing.T, unitID, tenant string) *domain.LeaseDetails {
	t.Helper()
	l, err := f.leases.CreateLease(context.Background(), CreateLeaseRequest{
		Actor:         landlordActor,
		TenantID:      tenant,
		UnitID:        unitID,
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RentAmount:    2500,
		DepositAmount: 5000,
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) activeLease(t *testing.T) *domain.LeaseDetails {
	t.Helper()
	ctx := context.Background()
	l := f.createLease(t, "unit-1", "tenant-1")
	_, err := f.leases.SendLease(ctx, LeaseActionRequest{Actor: landlordActor, LeaseID: l.LeaseID})
	require.NoError(t, err)
	l, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "Jane Wanjiku"})
	require.NoError(t, err)
	f.pub.reset()
	return l
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentdesk/internal/domain"
)

func TestLeaseService_SendViewAcceptRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l := f.createLease(t, "unit-1", "tenant-1")
	assert.Equal(t, domain.LeaseDraft, l.Status)
	assert.Equal(t, []domain.EventName{domain.EventLeaseCreated}, f.pub.names())

	l, err := f.leases.SendLease(ctx, LeaseActionRequest{Actor: landlordActor, LeaseID: l.LeaseID})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseSent, l.Status)
	assert.Equal(t, f.now, l.SentAt.Time)

	f.now = f.now.Add(time.Hour)
	l, err = f.leases.ViewLease(ctx, LeaseActionRequest{Actor: tenantActor, LeaseID: l.LeaseID})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseViewed, l.Status)
	assert.Equal(t, f.now, l.ViewedAt.Time)

	// 再次查看不改变 viewed_at
	viewedAt := l.ViewedAt.Time
	f.now = f.now.Add(time.Hour)
	l, err = f.leases.ViewLease(ctx, LeaseActionRequest{Actor: tenantActor, LeaseID: l.LeaseID})
	require.NoError(t, err)
	assert.Equal(t, viewedAt, l.ViewedAt.Time)

	f.pub.reset()
	l, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "  Jane Wanjiku  "})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseActive, l.Status)
	assert.Equal(t, "Jane Wanjiku", l.TenantSignature.String)
	assert.Equal(t, f.now, l.TenantSignedAt.Time)
	assert.Equal(t, f.now, l.RespondedAt.Time)
	assert.Equal(t, []domain.EventName{domain.EventLeaseUpdated, domain.EventDashboardRefresh}, f.pub.names())
	assert.Equal(t, []string{"tenant-tenant-1", "landlord-landlord-1", "admin"}, f.pub.events[0].Rooms)

	unit, err := f.store.GetUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitOccupied, unit.Status)
}

func TestLeaseService_TerminateOnDraftIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	l := f.createLease(t, "unit-1", "tenant-1")

	_, err := f.leases.TerminateLease(context.Background(), TerminateLeaseRequest{
		Actor: landlordActor, LeaseID: l.LeaseID, Reason: "tenant relocating abroad",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Contains(t, err.Error(), `"draft"`)
	assert.Contains(t, err.Error(), "terminate")

	got, err := f.leases.GetLease(context.Background(), GetLeaseRequest{Actor: landlordActor, LeaseID: l.LeaseID})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseDraft, got.Status)
}

func TestLeaseService_Terminate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.activeLease(t)

	_, err := f.leases.TerminateLease(ctx, TerminateLeaseRequest{Actor: landlordActor, LeaseID: l.LeaseID, Reason: "short"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	out, err := f.leases.TerminateLease(ctx, TerminateLeaseRequest{Actor: adminActor, LeaseID: l.LeaseID, Reason: "  repeated late payments  "})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseTerminated, out.Status)
	assert.Equal(t, "repeated late payments", out.TerminationReason.String)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), out.TerminationDate.Time)

	unit, err := f.store.GetUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitVacant, unit.Status)
}

func TestLeaseService_Reject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.createLease(t, "unit-1", "tenant-1")
	_, err := f.leases.SendLease(ctx, LeaseActionRequest{Actor: landlordActor, LeaseID: l.LeaseID})
	require.NoError(t, err)

	_, err = f.leases.RejectLease(ctx, RejectLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Reason: "too short"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	out, err := f.leases.RejectLease(ctx, RejectLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Reason: "rent is above my budget"})
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseRejected, out.Status)
	assert.Equal(t, "rent is above my budget", out.RejectionReason.String)

	// 终态
	_, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "Jane"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLeaseService_AuthorizationAndCheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.createLease(t, "unit-1", "tenant-1")

	// not found 优先
	_, err := f.leases.SendLease(ctx, LeaseActionRequest{Actor: otherLandlord, LeaseID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// forbidden 先于 invalid transition
	_, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: otherTenant, LeaseID: l.LeaseID, Signature: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// validation 先于 invalid transition（lease 仍为 draft）
	_, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "Jane"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// 房东不能签署，租客不能发送，admin 不能代签
	_, err = f.leases.SendLease(ctx, LeaseActionRequest{Actor: tenantActor, LeaseID: l.LeaseID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.leases.SendLease(ctx, LeaseActionRequest{Actor: otherLandlord, LeaseID: l.LeaseID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: adminActor, LeaseID: l.LeaseID, Signature: "Admin"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.leases.GetLease(ctx, GetLeaseRequest{Actor: otherTenant, LeaseID: l.LeaseID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.leases.GetLease(ctx, GetLeaseRequest{Actor: adminActor, LeaseID: l.LeaseID})
	assert.NoError(t, err)
}

func TestLeaseService_CreateLeaseGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := CreateLeaseRequest{
		Actor:      landlordActor,
		TenantID:   "tenant-2",
		UnitID:     "unit-1",
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RentAmount: 1000,
	}

	req := base
	req.UnitID = "unit-x"
	_, err := f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req = base
	req.Actor = otherLandlord
	_, err = f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	req = base
	req.Actor = tenantActor
	_, err = f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	req = base
	req.EndDate = req.StartDate
	_, err = f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req = base
	req.RentAmount = 0
	_, err = f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req = base
	req.DepositAmount = -1
	_, err = f.leases.CreateLease(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// 同一 unit 已有 active 租约
	f.activeLease(t)
	_, err = f.leases.CreateLease(ctx, base)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// 其他 unit 不受影响
	req = base
	req.UnitID = "unit-2"
	req.Actor = adminActor
	_, err = f.leases.CreateLease(ctx, req)
	assert.NoError(t, err)
}

func TestLeaseService_ListLeasesScoping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createLease(t, "unit-1", "tenant-1")
	f.createLease(t, "unit-2", "tenant-2")

	mine, err := f.leases.ListLeases(ctx, ListLeasesRequest{Actor: tenantActor})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "tenant-1", mine[0].TenantID)

	all, err := f.leases.ListLeases(ctx, ListLeasesRequest{Actor: landlordActor, Status: []string{"draft,sent"}})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.leases.ListLeases(ctx, ListLeasesRequest{Actor: otherLandlord})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.leases.ListLeases(ctx, ListLeasesRequest{Actor: adminActor, Status: []string{"signed"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.leases.ListLeases(ctx, ListLeasesRequest{Actor: domain.Identity{Role: domain.RoleTenant}})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLeaseService_ExpireLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.activeLease(t)

	_, err := f.leases.ExpireLease(ctx, l.LeaseID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.now = time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	out, err := f.leases.ExpireLease(ctx, l.LeaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseExpired, out.Status)

	unit, err := f.store.GetUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitVacant, unit.Status)
}

// accept 与 reject 同时到达：只有一个生效，另一个看到冲突或已变更的状态
func TestLeaseService_ConcurrentAcceptReject(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		l := f.createLease(t, "unit-1", "tenant-1")
		_, err := f.leases.SendLease(ctx, LeaseActionRequest{Actor: landlordActor, LeaseID: l.LeaseID})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = f.leases.AcceptLease(ctx, AcceptLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Signature: "Jane Wanjiku"})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = f.leases.RejectLease(ctx, RejectLeaseRequest{Actor: tenantActor, LeaseID: l.LeaseID, Reason: "rent is above the agreed figure"})
		}()
		close(start)
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.True(t, errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidTransition), "unexpected error: %v", err)
		}
		require.Equal(t, 1, successes)

		got, err := f.leases.GetLease(ctx, GetLeaseRequest{Actor: landlordActor, LeaseID: l.LeaseID})
		require.NoError(t, err)
		unit, err := f.store.GetUnit(ctx, "unit-1")
		require.NoError(t, err)
		if errs[0] == nil {
			assert.Equal(t, domain.LeaseActive, got.Status)
			assert.Equal(t, domain.UnitOccupied, unit.Status)
		} else {
			assert.Equal(t, domain.LeaseRejected, got.Status)
			assert.NotEqual(t, domain.UnitOccupied, unit.Status)
		}
	}
}

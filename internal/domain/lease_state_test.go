package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []LeaseStatus{
	LeaseDraft, LeaseSent, LeaseViewed, LeaseAccepted, LeaseRejected,
	LeaseActive, LeaseTerminated, LeaseExpired,
}

var allActions = []LeaseAction{
	ActionSend, ActionView, ActionAccept, ActionReject, ActionTerminate, ActionExpire,
}

func TestLease_NextStatus_EdgeTable(t *testing.T) {
	allowed := map[LeaseAction]map[LeaseStatus]LeaseStatus{
		ActionSend:      {LeaseDraft: LeaseSent},
		ActionView:      {LeaseSent: LeaseViewed},
		ActionAccept:    {LeaseSent: LeaseActive, LeaseViewed: LeaseActive},
		ActionReject:    {LeaseSent: LeaseRejected, LeaseViewed: LeaseRejected},
		ActionTerminate: {LeaseActive: LeaseTerminated},
		ActionExpire:    {LeaseActive: LeaseExpired},
	}

	for _, action := range allActions {
		for _, status := range allStatuses {
			lease := &Lease{LeaseID: "lease-1", Status: status}
			next, err := lease.NextStatus(action)

			want, ok := allowed[action][status]
			if ok {
				require.NoError(t, err, "%s from %s", action, status)
				assert.Equal(t, want, next, "%s from %s", action, status)
				continue
			}

			require.Error(t, err, "%s from %s", action, status)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, status, te.Current)
			assert.Equal(t, action, te.Action)
			// 状态不变
			assert.Equal(t, status, lease.Status)
		}
	}
}

func TestLease_NextStatus_TerminalStatesAcceptNothing(t *testing.T) {
	for _, status := range []LeaseStatus{LeaseRejected, LeaseTerminated, LeaseExpired} {
		assert.True(t, status.Terminal())
		for _, action := range allActions {
			_, err := (&Lease{Status: status}).NextStatus(action)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
}

func TestTransitionError_Message(t *testing.T) {
	_, err := (&Lease{LeaseID: "L1", Status: LeaseDraft}).NextStatus(ActionTerminate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminate")
	assert.Contains(t, err.Error(), `"draft"`)
}

func TestTransitionFor_ReturnsCopy(t *testing.T) {
	from, to, ok := TransitionFor(ActionAccept)
	require.True(t, ok)
	assert.Equal(t, LeaseActive, to)
	from[0] = LeaseExpired

	again, _, _ := TransitionFor(ActionAccept)
	assert.Equal(t, []LeaseStatus{LeaseSent, LeaseViewed}, again)

	_, _, ok = TransitionFor(LeaseAction("sign"))
	assert.False(t, ok)
}

func TestValidateSignature(t *testing.T) {
	_, err := ValidateSignature("  J ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateSignature("")
	assert.ErrorIs(t, err, ErrValidation)

	sig, err := ValidateSignature("  Jane Wanjiku ")
	require.NoError(t, err)
	assert.Equal(t, "Jane Wanjiku", sig)

	// 多字节字符按 rune 计数
	sig, err = ValidateSignature("王五")
	require.NoError(t, err)
	assert.Equal(t, "王五", sig)
}

func TestValidateReason(t *testing.T) {
	_, err := ValidateReason("reason", "too short")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "reason must be at least 10")

	r, err := ValidateReason("reason", "  rent is too high  ")
	require.NoError(t, err)
	assert.Equal(t, "rent is too high", r)
}

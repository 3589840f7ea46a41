package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrGatewayAuth       = errors.New("gateway auth error")
	ErrGatewayRequest    = errors.New("gateway request error")

	// ErrDuplicateCallback 回调已处理过（callback_received = true）
	ErrDuplicateCallback = errors.New("callback already applied")
)

// TransitionError 状态机拒绝的迁移，errors.Is(err, ErrInvalidTransition) 为 true
type TransitionError struct {
	LeaseID string
	Current LeaseStatus
	Action  LeaseAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s lease %s in status %q", e.Action, e.LeaseID, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

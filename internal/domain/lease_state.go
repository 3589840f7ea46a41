package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// LeaseAction 租约状态机动作
type LeaseAction string

const (
	ActionSend      LeaseAction = "send"
	ActionView      LeaseAction = "view"
	ActionAccept    LeaseAction = "accept"
	ActionReject    LeaseAction = "reject"
	ActionTerminate LeaseAction = "terminate"
	ActionExpire    LeaseAction = "expire"
)

const (
	MinSignatureLength = 2
	MinReasonLength    = 10
)

type leaseTransition struct {
	from []LeaseStatus
	to   LeaseStatus
}

// accept 直接进入 active：签署即生效，不存在 accepted 的中间停留
var leaseTransitions = map[LeaseAction]leaseTransition{
	ActionSend:      {from: []LeaseStatus{LeaseDraft}, to: LeaseSent},
	ActionView:      {from: []LeaseStatus{LeaseSent}, to: LeaseViewed},
	ActionAccept:    {from: []LeaseStatus{LeaseSent, LeaseViewed}, to: LeaseActive},
	ActionReject:    {from: []LeaseStatus{LeaseSent, LeaseViewed}, to: LeaseRejected},
	ActionTerminate: {from: []LeaseStatus{LeaseActive}, to: LeaseTerminated},
	ActionExpire:    {from: []LeaseStatus{LeaseActive}, to: LeaseExpired},
}

// TransitionFor 返回动作允许的前置状态与目标状态
func TransitionFor(action LeaseAction) (from []LeaseStatus, to LeaseStatus, ok bool) {
	t, ok := leaseTransitions[action]
	if !ok {
		return nil, "", false
	}
	return append([]LeaseStatus(nil), t.from...), t.to, true
}

// NextStatus 计算动作后的状态；不在迁移表内时返回 *TransitionError
func (l *Lease) NextStatus(action LeaseAction) (LeaseStatus, error) {
	t, ok := leaseTransitions[action]
	if !ok {
		return "", &TransitionError{LeaseID: l.LeaseID, Current: l.Status, Action: action}
	}
	for _, s := range t.from {
		if s == l.Status {
			return t.to, nil
		}
	}
	return "", &TransitionError{LeaseID: l.LeaseID, Current: l.Status, Action: action}
}

// ValidateSignature 签名去除首尾空白后至少 2 个字符
func ValidateSignature(signature string) (string, error) {
	s := strings.TrimSpace(signature)
	if utf8.RuneCountInString(s) < MinSignatureLength {
		return "", fmt.Errorf("%w: signature must be at least %d characters", ErrValidation, MinSignatureLength)
	}
	return s, nil
}

// ValidateReason 拒绝/终止原因至少 10 个字符
func ValidateReason(field, reason string) (string, error) {
	s := strings.TrimSpace(reason)
	if utf8.RuneCountInString(s) < MinReasonLength {
		return "", fmt.Errorf("%w: %s must be at least %d characters", ErrValidation, field, MinReasonLength)
	}
	return s, nil
}

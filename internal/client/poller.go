package client

import (
	"context"
	"fmt"
	"time"
)

// PollState 轮询结果
type PollState string

const (
	StateCompleted PollState = "completed"
	StateFailed    PollState = "failed"
	// StatePending 超过最大次数仍未终态；不是错误，服务端稍后仍可能对账完成
	StatePending PollState = "pending"
)

// FetchFunc 读取交易当前状态
type FetchFunc func(ctx context.Context, id string) (*Transaction, error)

// Poller 有界轮询；只读，不修改任何状态
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// PollOutcome Wait 的结果
type PollOutcome struct {
	State       PollState
	Transaction *Transaction
	Attempts    int
	// LastErr 最近一次读取失败（读取失败计入次数但不终止轮询）
	LastErr error
}

func DefaultPoller() Poller {
	return Poller{Interval: 3 * time.Second, MaxAttempts: 40}
}

// Wait 立即读取一次，之后每 Interval 读取，直到终态、达到 MaxAttempts 或 ctx 取消
func (p Poller) Wait(ctx context.Context, id string, fetch FetchFunc) (*PollOutcome, error) {
	interval, limit := p.Interval, p.MaxAttempts
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if limit <= 0 {
		limit = 1
	}

	out := &PollOutcome{State: StatePending}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for out.Attempts < limit {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
		}

		out.Attempts++
		txn, err := fetch(ctx, id)
		if err == nil && txn == nil {
			err = fmt.Errorf("%w: empty transaction for %s", ErrRequest, id)
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.LastErr = err
		} else {
			out.Transaction = txn
			switch PollState(txn.Status) {
			case StateCompleted:
				out.State = StateCompleted
				return out, nil
			case StateFailed:
				out.State = StateFailed
				return out, nil
			}
		}
		timer.Reset(interval)
	}
	return out, nil
}

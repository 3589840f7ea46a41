package store

import (
	"context"
	"time"
)

// Lock 基于 KV 的租约锁（SETNX + TTL），多实例部署时保证后台任务只有一个实例执行
type Lock struct {
	kv    KV
	key   string
	owner string
	ttl   time.Duration
}

func NewLock(kv KV, key, owner string, ttl time.Duration) *Lock {
	return &Lock{kv: kv, key: key, owner: owner, ttl: ttl}
}

// TryAcquire 获取锁；已被其他实例持有时返回 false
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.kv.SetNX(ctx, l.key, l.owner, l.ttl)
}

// Release 只释放自己持有的锁
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.kv.DeleteIf(ctx, l.key, l.owner)
	return err
}

func (l *Lock) Key() string { return l.key }

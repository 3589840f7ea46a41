package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisKV(client), mr
}

func TestRedisKV_GetSet(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedisKV(t)

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "rentdesk:sweeper:last", "abc", time.Minute))
	v, err := kv.Get(ctx, "rentdesk:sweeper:last")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "rentdesk:sweeper:last")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisKV_LockRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedisKV(t)

	a := NewLock(kv, "rentdesk:sweeper", "instance-a", 30*time.Second)
	b := NewLock(kv, "rentdesk:sweeper", "instance-b", 30*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b 不能释放 a 的锁
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("rentdesk:sweeper"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("rentdesk:sweeper"))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// TTL 到期后自动释放
	mr.FastForward(31 * time.Second)
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	ok, err := kv.SetNX(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = kv.SetNX(ctx, "lock", "b", time.Second)
	assert.False(t, ok)

	deleted, _ := kv.DeleteIf(ctx, "lock", "b")
	assert.False(t, deleted)

	now = now.Add(2 * time.Second)
	_, err = kv.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "p:1", "v", 0))
	v, err := kv.Get(ctx, "p:1")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	deleted, _ = kv.DeleteIf(ctx, "p:1", "v")
	assert.True(t, deleted)
}

func TestReportStore(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedisKV(t)
	reports := NewReportStore(kv, "rentdesk:sweeper:last", time.Minute)

	var got struct {
		Completed int `json:"completed"`
	}
	found, err := reports.Load(ctx, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, reports.Save(ctx, map[string]int{"completed": 3}))
	found, err = reports.Load(ctx, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Completed)

	mr.FastForward(2 * time.Minute)
	found, err = reports.Load(ctx, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "rentdesk:sweeper:last", "not json", 0))
	_, err = reports.Load(ctx, &got)
	assert.Error(t, err)
}

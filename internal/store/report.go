package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ReportStore 以 JSON 保存最近一次后台任务结果；Redis 启用时所有实例可读
type ReportStore struct {
	kv  KV
	key string
	ttl time.Duration
}

func NewReportStore(kv KV, key string, ttl time.Duration) *ReportStore {
	return &ReportStore{kv: kv, key: key, ttl: ttl}
}

func (r *ReportStore) Save(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return r.kv.Set(ctx, r.key, string(b), r.ttl)
}

// Load 读取并解码到 v；不存在或已过期时返回 false
func (r *ReportStore) Load(ctx context.Context, v any) (bool, error) {
	raw, err := r.kv.Get(ctx, r.key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode report %s: %w", r.key, err)
	}
	return true, nil
}

package redis

import (
	"context"
	"fmt"

	"rentdesk/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// Connect 创建客户端并 ping；失败时关闭客户端并返回错误
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unavailable: %w", cfg.Addr, err)
	}
	return client, nil
}

// Ping 测试Redis连接（启动与 /healthz 共用）
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

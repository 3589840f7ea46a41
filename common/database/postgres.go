package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rentdesk/common/config"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Connect 打开 PostgreSQL 连接池并等待可用；ConnectAttempts 次 ping 均失败时返回错误
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := waitReady(ctx, db, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// waitReady 逐次 ping，间隔 backoff；ctx 取消时立即返回
func waitReady(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to ping database: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, err)
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}

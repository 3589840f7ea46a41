package repository

import (
	"context"
	"database/sql"
	"time"

	"rentdesk/internal/domain"
)

// LeasesRepository 租约Repository接口
// 状态迁移必须是条件更新（WHERE status = ANY(from)），并发下只有一个迁移生效
type LeasesRepository interface {
	// 创建（status 固定为 draft；unit 已有 active 租约时返回 ErrConflict）
	CreateLease(ctx context.Context, lease *domain.Lease) (*domain.LeaseDetails, error)

	// 查询
	GetLease(ctx context.Context, leaseID string) (*domain.LeaseDetails, error)
	ListLeases(ctx context.Context, filters LeaseFilters) ([]*domain.LeaseDetails, error)

	// 条件迁移：当前状态不在 From 内时返回 ErrConflict，不存在返回 ErrNotFound
	TransitionLease(ctx context.Context, t LeaseTransition) (*domain.LeaseDetails, error)

	// 已过 end_date 仍为 active 的租约（过期任务使用）
	ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]*domain.LeaseDetails, error)
}

// LeaseFilters 租约查询过滤器（空值表示不过滤）
type LeaseFilters struct {
	TenantID   string
	LandlordID string
	UnitID     string
	Status     []domain.LeaseStatus
}

// LeaseTransition 一次状态迁移需要写入的字段
type LeaseTransition struct {
	LeaseID string
	From    []domain.LeaseStatus
	To      domain.LeaseStatus
	At      time.Time

	TenantSignature   string    // accept
	RejectionReason   string    // reject
	TerminationReason string    // terminate
	TerminationDate   time.Time // terminate

	// 非空时同一事务内更新 units.status
	UnitStatus domain.UnitStatus
}

// UnitsRepository 单元Repository接口
type UnitsRepository interface {
	GetUnit(ctx context.Context, unitID string) (*domain.Unit, error)
}

// PaymentsRepository 支付Repository接口
type PaymentsRepository interface {
	// 仅 active 租约可记账，否则返回 ErrConflict；tenant_id 取自租约
	CreatePayment(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	ListPaymentsByLease(ctx context.Context, leaseID string) ([]*domain.Payment, error)
}

// MpesaTransactionsRepository STK Push 交易Repository接口
type MpesaTransactionsRepository interface {
	CreateTransaction(ctx context.Context, tx *domain.MpesaTransaction) (*domain.MpesaTransaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.MpesaTransaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error)

	// ApplyCallback 原子地写入回调结果；成功时在同一事务内生成 mpesa 支付记录
	// 未知 checkout 返回 ErrNotFound，已处理过返回 ErrDuplicateCallback
	ApplyCallback(ctx context.Context, res domain.CallbackResult, at time.Time) (*domain.MpesaTransaction, *domain.Payment, error)

	// 创建早于 olderThan 且仍未收到回调的 pending 交易
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.MpesaTransaction, error)
}

// Store 全部仓储的组合，main 按配置选择 Postgres 或内存实现
type Store struct {
	Leases       LeasesRepository
	Units        UnitsRepository
	Payments     PaymentsRepository
	Transactions MpesaTransactionsRepository
}

// NewPostgresStore 以同一个 *sql.DB 构造全部 Postgres 仓储
func NewPostgresStore(db *sql.DB) Store {
	return Store{
		Leases:       NewPostgresLeasesRepo(db),
		Units:        NewPostgresUnitsRepo(db),
		Payments:     NewPostgresPaymentsRepo(db),
		Transactions: NewPostgresMpesaRepo(db),
	}
}

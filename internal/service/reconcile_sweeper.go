package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rentdesk/internal/config"
	"rentdesk/internal/domain"
	"rentdesk/internal/repository"
	"rentdesk/internal/store"
)

const noCallbackDesc = "no callback received"

// ReconcileSweeper 后台对账任务（轮询模式）
// - 回调迟迟未到的 pending 交易：主动查询网关，确定结果后走与回调相同的幂等路径
// - 超过 AbandonAfter 仍无结果：标记失败
// - 已过 end_date 的 active 租约：置为 expired
// 多实例部署时通过 KV 锁保证只有一个实例执行
type ReconcileSweeper struct {
	cfg          config.SweeperConfig
	gateway      MpesaGateway
	transactions repository.MpesaTransactionsRepository
	leases       repository.LeasesRepository
	mpesa        MpesaService
	leaseSvc     LeaseService
	lock         *store.Lock
	reports      *store.ReportStore
	logger       *zap.Logger
	now          func() time.Time
}

// SweepReport 单轮执行统计；执行过的轮次保存到 ReportStore 供 /healthz 读取
type SweepReport struct {
	Skipped      bool      `json:"-"` // 锁被其他实例持有
	Queried      int       `json:"queried"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Abandoned    int       `json:"abandoned"`
	StillPending int       `json:"still_pending"`
	Expired      int       `json:"expired"`
	FinishedAt   time.Time `json:"finished_at"`
	Error        string    `json:"error,omitempty"`
}

// NewReconcileSweeper 创建对账任务
func NewReconcileSweeper(
	cfg config.SweeperConfig,
	gateway MpesaGateway,
	transactions repository.MpesaTransactionsRepository,
	leases repository.LeasesRepository,
	mpesa MpesaService,
	leaseSvc LeaseService,
	lock *store.Lock,
	reports *store.ReportStore,
	logger *zap.Logger,
) *ReconcileSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &ReconcileSweeper{
		cfg:          cfg,
		gateway:      gateway,
		transactions: transactions,
		leases:       leases,
		mpesa:        mpesa,
		leaseSvc:     leaseSvc,
		lock:         lock,
		reports:      reports,
		logger:       logger,
		now:          time.Now,
	}
}

// Start 启动后台任务，ctx 取消时返回
func (s *ReconcileSweeper) Start(ctx context.Context) error {
	s.logger.Info("Reconcile sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("pending_after", s.cfg.PendingAfter),
		zap.Duration("abandon_after", s.cfg.AbandonAfter),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// 立即执行一次
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconcile sweeper stopped")
			return nil
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *ReconcileSweeper) runAndLog(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Reconcile sweep failed", zap.Error(err))
		return
	}
	if report.Skipped {
		s.logger.Debug("Reconcile sweep skipped, lock held elsewhere")
		return
	}
	s.logger.Debug("Reconcile sweep finished",
		zap.Int("queried", report.Queried),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("abandoned", report.Abandoned),
		zap.Int("still_pending", report.StillPending),
		zap.Int("expired", report.Expired),
	)
}

// RunOnce 执行一轮对账与租约到期处理
func (s *ReconcileSweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if s.lock != nil {
		ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweeper lock: %w", err)
		}
		if !ok {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	err := s.reconcilePending(ctx, report)
	if err == nil {
		err = s.expireLeases(ctx, report)
	}
	report.FinishedAt = s.now()
	if err != nil {
		report.Error = err.Error()
	}
	s.saveReport(ctx, report)
	return report, err
}

func (s *ReconcileSweeper) saveReport(ctx context.Context, report *SweepReport) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Save(context.WithoutCancel(ctx), report); err != nil {
		s.logger.Warn("Failed to save sweep report", zap.Error(err))
	}
}

// LastReport 最近一次执行过的轮次（任意实例）；尚无记录时返回 nil
func (s *ReconcileSweeper) LastReport(ctx context.Context) (*SweepReport, error) {
	if s.reports == nil {
		return nil, nil
	}
	var report SweepReport
	found, err := s.reports.Load(ctx, &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}

func (s *ReconcileSweeper) reconcilePending(ctx context.Context, report *SweepReport) error {
	now := s.now()
	pending, err := s.transactions.ListPending(ctx, now.Add(-s.cfg.PendingAfter), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}

	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.gateway != nil {
			report.Queried++
		}
		res, definitive := s.query(ctx, txn)
		if !definitive {
			if s.cfg.AbandonAfter > 0 && now.Sub(txn.CreatedAt) >= s.cfg.AbandonAfter {
				res = domain.CallbackResult{
					CheckoutRequestID: txn.CheckoutRequestID,
					MerchantRequestID: txn.MerchantRequestID,
					ResultCode:        domain.ResultCodeNoCallback,
					ResultDesc:        noCallbackDesc,
				}
			} else {
				report.StillPending++
				continue
			}
		}

		outcome, err := s.mpesa.HandleCallback(ctx, res)
		if err != nil {
			s.logger.Error("Failed to apply reconciled result",
				zap.String("checkout_request_id", txn.CheckoutRequestID),
				zap.Error(err),
			)
			continue
		}
		if !outcome.Applied {
			// 期间真实回调已到达
			continue
		}
		switch {
		case res.ResultCode == domain.ResultCodeNoCallback:
			report.Abandoned++
		case outcome.Transaction.Status == domain.MpesaCompleted:
			report.Completed++
		default:
			report.Failed++
		}
	}
	return nil
}

// query 查询网关；返回 definitive=false 表示仍在处理或查询失败
func (s *ReconcileSweeper) query(ctx context.Context, txn *domain.MpesaTransaction) (domain.CallbackResult, bool) {
	if s.gateway == nil {
		return domain.CallbackResult{}, false
	}
	qr, err := s.gateway.QueryStatus(ctx, txn.CheckoutRequestID)
	if err != nil {
		s.logger.Warn("STK status query failed",
			zap.String("checkout_request_id", txn.CheckoutRequestID),
			zap.Error(err),
		)
		return domain.CallbackResult{}, false
	}
	if qr.Pending {
		return domain.CallbackResult{}, false
	}
	return domain.CallbackResult{
		CheckoutRequestID: txn.CheckoutRequestID,
		MerchantRequestID: txn.MerchantRequestID,
		ResultCode:        qr.ResultCode,
		ResultDesc:        qr.ResultDesc,
		Amount:            txn.Amount,
	}, true
}

func (s *ReconcileSweeper) expireLeases(ctx context.Context, report *SweepReport) error {
	today := startOfDay(s.now())
	leases, err := s.leases.ListExpirable(ctx, today, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list expirable leases: %w", err)
	}
	for _, l := range leases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.leaseSvc.ExpireLease(ctx, l.LeaseID); err != nil {
			s.logger.Warn("Failed to expire lease", zap.String("lease_id", l.LeaseID), zap.Error(err))
			continue
		}
		report.Expired++
	}
	return nil
}

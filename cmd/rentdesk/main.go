package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentdesk/common/database"
	"rentdesk/common/logger"
	commonmqtt "rentdesk/common/mqtt"
	commonredis "rentdesk/common/redis"
	"rentdesk/internal/config"
	httpapi "rentdesk/internal/http"
	"rentdesk/internal/realtime"
	"rentdesk/internal/repository"
	"rentdesk/internal/service"
	"rentdesk/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rentdesk")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := instanceName()

	// 仓储：DB 启用但不可用时直接退出，避免以空内存库应答网关回调
	repos, db, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open repositories", zap.Error(err))
	}

	// Redis：锁 + 多实例事件广播；不可用时单实例运行
	var redisClient *commonredis.Client
	var kv store.KV = store.NewMemoryKV()
	if cfg.RedisEnabled {
		if c, err := commonredis.Connect(ctx, &cfg.Redis); err == nil {
			redisClient = c
			kv = store.NewRedisKV(c)
			log.Info("Redis enabled for rentdesk", zap.String("addr", cfg.Redis.Addr))
		} else {
			log.Warn("Redis enabled but unavailable, running single-instance", zap.Error(err))
		}
	}

	// 实时推送
	hub := realtime.NewHub(cfg.Realtime.AllowedOrigins, log)
	go hub.Run(ctx)
	publisher := realtime.NewMulti(log).Add("hub", hub)

	if redisClient != nil {
		bridge := realtime.NewRedisBridge(redisClient, cfg.Realtime.RedisChannel, cfg.Realtime.EventStream,
			cfg.Realtime.EventStreamLen, instanceID, hub, log)
		publisher.Add("redis", bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error("Realtime bridge stopped", zap.Error(err))
			}
		}()
	}

	var mqttClient *commonmqtt.Client
	if cfg.Realtime.MQTTEnabled {
		if c, err := commonmqtt.NewClient(&cfg.Realtime.MQTT, log); err == nil {
			mqttClient = c
			publisher.Add("mqtt", realtime.NewMQTTMirror(c, cfg.Realtime.MQTTTopicRoot))
			log.Info("MQTT event mirror enabled", zap.String("broker", cfg.Realtime.MQTT.Broker))
		} else {
			log.Warn("MQTT enabled but connection failed, mirror disabled", zap.Error(err))
		}
	}

	// 服务
	gateway := service.NewMpesaClient(cfg.Mpesa, log)
	leaseSvc := service.NewLeaseService(repos.Leases, repos.Units, publisher, log)
	mpesaSvc := service.NewMpesaService(gateway, repos.Leases, repos.Transactions, publisher, log)
	paymentSvc := service.NewPaymentService(repos.Leases, repos.Payments, publisher, log)

	var sweeper *service.ReconcileSweeper
	if cfg.Sweeper.Enabled {
		lock := store.NewLock(kv, "rentdesk:lock:reconcile-sweeper", instanceID, cfg.Sweeper.LockTTL)
		reports := store.NewReportStore(kv, "rentdesk:sweeper:last-report", 24*time.Hour)
		sweeper = service.NewReconcileSweeper(cfg.Sweeper, gateway, repos.Transactions, repos.Leases, mpesaSvc, leaseSvc, lock, reports, log)
		go func() {
			_ = sweeper.Start(ctx)
		}()
	}

	// HTTP
	auth := httpapi.NewAuthenticator(cfg.Auth)
	router := httpapi.NewRouter(auth, log)
	router.RegisterHealthRoutes(func(req *http.Request) (map[string]any, error) {
		details := map[string]any{"instance": instanceID, "database": "memory"}
		if db != nil {
			details["database"] = "postgres"
		}
		if sweeper != nil {
			if last, err := sweeper.LastReport(req.Context()); err == nil && last != nil {
				details["sweeper"] = last
			}
		}
		if db != nil {
			if err := db.PingContext(req.Context()); err != nil {
				return details, fmt.Errorf("postgres: %w", err)
			}
		}
		if redisClient != nil {
			if err := commonredis.Ping(req.Context(), redisClient); err != nil {
				return details, fmt.Errorf("redis: %w", err)
			}
		}
		return details, nil
	})
	router.RegisterLeaseRoutes(httpapi.NewLeaseHandler(leaseSvc, log))
	router.RegisterPaymentRoutes(httpapi.NewPaymentHandler(paymentSvc, log))
	router.RegisterMpesaRoutes(httpapi.NewMpesaHandler(mpesaSvc, log))
	router.RegisterRealtimeRoutes(hub)

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = database.Close(db)
}

// openRepositories DB_ENABLED=false 时使用内存仓储（本地联调）；启用时必须连上并完成迁移
func openRepositories(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, *sql.DB, error) {
	if !cfg.DBEnabled {
		log.Warn("DB disabled, using in-memory store; data is lost on restart")
		return repository.NewMemoryStore().Store(), nil, nil
	}

	db, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		return repository.Store{}, nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		_ = database.Close(db)
		return repository.Store{}, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info("DB enabled for rentdesk", zap.String("database", cfg.Database.Database))
	return repository.NewPostgresStore(db), db, nil
}

// instanceName 锁 owner 与广播 origin；hostname 不唯一时追加随机后缀
func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "rentdesk"
	}
	return host + "-" + uuid.NewString()[:8]
}

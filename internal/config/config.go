package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "rentdesk/common/config"

	"github.com/joho/godotenv"
)

// Config rentdesk（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled    bool
	Database     commoncfg.DatabaseConfig
	RedisEnabled bool
	Redis        commoncfg.RedisConfig
	Log          struct {
		Level  string
		Format string
	}
	Auth     AuthConfig
	Mpesa    MpesaConfig
	Realtime RealtimeConfig
	Sweeper  SweeperConfig
}

// AuthConfig bearer token 校验
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// MpesaConfig Daraja (M-PESA) 网关配置
type MpesaConfig struct {
	Environment     string // sandbox | production
	BaseURL         string // 为空时由 Environment 推导
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	Timeout         time.Duration
}

// RealtimeConfig 实时推送配置
type RealtimeConfig struct {
	RedisChannel   string // 多实例广播频道（Redis 启用时生效）
	EventStream    string // 事件审计 stream
	EventStreamLen int64
	AllowedOrigins []string
	MQTTEnabled    bool
	MQTT           commoncfg.MQTTConfig
	MQTTTopicRoot  string
}

// SweeperConfig 对账/租约到期后台任务
type SweeperConfig struct {
	Enabled      bool
	Interval     time.Duration
	PendingAfter time.Duration // pending 超过该时长才主动查询网关
	AbandonAfter time.Duration // 超过该时长仍无结果则标记失败
	BatchSize    int
	LockTTL      time.Duration
}

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

// Load 读取环境变量；当前目录存在 .env 时先加载（不覆盖已有环境变量）
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// DB_ENABLED=false 时使用内存 repo（仅本地联调）；启用但连不上时启动失败
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "rentdesk",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,

		ConnectAttempts: 5,
		ConnectBackoff:  2 * time.Second,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "true") == "true"
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Auth.Issuer = getEnv("JWT_ISSUER", "rentdesk")
	cfg.Auth.TokenTTL = parseDuration(getEnv("JWT_TTL", "24h"), 24*time.Hour)

	cfg.Mpesa.Environment = strings.ToLower(getEnv("MPESA_ENVIRONMENT", "sandbox"))
	cfg.Mpesa.BaseURL = getEnv("MPESA_BASE_URL", "")
	if cfg.Mpesa.BaseURL == "" {
		cfg.Mpesa.BaseURL = BaseURLFor(cfg.Mpesa.Environment)
	}
	cfg.Mpesa.ConsumerKey = getEnv("MPESA_CONSUMER_KEY", "")
	cfg.Mpesa.ConsumerSecret = getEnv("MPESA_CONSUMER_SECRET", "")
	cfg.Mpesa.ShortCode = getEnv("MPESA_SHORTCODE", "174379")
	cfg.Mpesa.PassKey = getEnv("MPESA_PASSKEY", "")
	cfg.Mpesa.CallbackURL = getEnv("MPESA_CALLBACK_URL", "")
	cfg.Mpesa.TransactionType = getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline")
	cfg.Mpesa.Timeout = parseDuration(getEnv("MPESA_TIMEOUT", "30s"), 30*time.Second)

	cfg.Realtime.RedisChannel = getEnv("REALTIME_CHANNEL", "rentdesk:events")
	cfg.Realtime.EventStream = getEnv("REALTIME_EVENT_STREAM", "rentdesk:events:log")
	cfg.Realtime.EventStreamLen = int64(parseInt(getEnv("REALTIME_EVENT_STREAM_LEN", "10000"), 10000))
	cfg.Realtime.AllowedOrigins = splitList(getEnv("REALTIME_ALLOWED_ORIGINS", ""))
	cfg.Realtime.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.Realtime.MQTT = commoncfg.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "rentdesk-events"}
	cfg.Realtime.MQTT.LoadFromEnv("MQTT")
	cfg.Realtime.MQTTTopicRoot = getEnv("MQTT_TOPIC_ROOT", "rentdesk/events")

	cfg.Sweeper.Enabled = getEnv("SWEEPER_ENABLED", "true") == "true"
	cfg.Sweeper.Interval = parseDuration(getEnv("SWEEPER_INTERVAL", "1m"), time.Minute)
	cfg.Sweeper.PendingAfter = parseDuration(getEnv("SWEEPER_PENDING_AFTER", "2m"), 2*time.Minute)
	cfg.Sweeper.AbandonAfter = parseDuration(getEnv("SWEEPER_ABANDON_AFTER", "24h"), 24*time.Hour)
	cfg.Sweeper.BatchSize = parseInt(getEnv("SWEEPER_BATCH_SIZE", "50"), 50)
	cfg.Sweeper.LockTTL = parseDuration(getEnv("SWEEPER_LOCK_TTL", "50s"), 50*time.Second)

	return cfg
}

// BaseURLFor 根据环境返回 Daraja 基础地址
func BaseURLFor(environment string) string {
	if environment == "production" {
		return productionBaseURL
	}
	return sandboxBaseURL
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

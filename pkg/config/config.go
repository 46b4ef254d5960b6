package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	Name    string `yaml:"name"`     // 注册表中的交易所名（如 gateio）
	BaseURL string `yaml:"base_url"` // 覆盖默认 REST 地址（可选）
	WsURL   string `yaml:"ws_url"`   // 覆盖默认 WebSocket 地址（可选）
	Key     string `yaml:"key"`      // API key（可用环境变量 EXCHANGE_KEY 覆盖）
	Secret  string `yaml:"secret"`   // API secret（可用环境变量 EXCHANGE_SECRET 覆盖）
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RateLimitConfig REST 限流配置
type RateLimitConfig struct {
	Capacity      int `yaml:"capacity"`        // 令牌桶容量
	RefillPerSec  int `yaml:"refill_per_sec"`  // 每秒补充令牌数
	MaxQueueDepth int `yaml:"max_queue_depth"` // 等待队列深度上限
}

// StreamConfig WebSocket 重连配置
type StreamConfig struct {
	ReconnectDelaySeconds    int `yaml:"reconnect_delay_seconds"`     // 初始退避
	MaxReconnectDelaySeconds int `yaml:"max_reconnect_delay_seconds"` // 退避上限
	PingIntervalSeconds      int `yaml:"ping_interval_seconds"`
}

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	Store string `yaml:"store"` // sqlite | memory
	DSN   string `yaml:"dsn"`   // sqlite 文件路径
}

// CoordinatorConfig 协调器配置
type CoordinatorConfig struct {
	SyncIntervalWithOrdersSeconds    int `yaml:"sync_interval_with_orders_seconds"`    // 有活跃订单时的状态同步间隔
	SyncIntervalWithoutOrdersSeconds int `yaml:"sync_interval_without_orders_seconds"` // 无活跃订单时的状态同步间隔
	SubmitTimeoutSeconds             int `yaml:"submit_timeout_seconds"`               // 下单 REST 超时
}

// Config 应用配置
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Log         LogConfig         `yaml:"log"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Stream      StreamConfig      `yaml:"stream"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Symbols     []string          `yaml:"symbols"` // 启动时订阅的交易对
}

// Load 从文件加载配置，.env 覆盖敏感字段
func Load(path string) (*Config, error) {
	// .env 不存在不报错，保持与生产环境一致
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// 凭证优先取环境变量，避免落盘
	if v := os.Getenv("EXCHANGE_KEY"); v != "" {
		cfg.Exchange.Key = v
	}
	if v := os.Getenv("EXCHANGE_SECRET"); v != "" {
		cfg.Exchange.Secret = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{Name: "gateio"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		RateLimit: RateLimitConfig{Capacity: 100, RefillPerSec: 10, MaxQueueDepth: 64},
		Stream: StreamConfig{
			ReconnectDelaySeconds:    1,
			MaxReconnectDelaySeconds: 60,
			PingIntervalSeconds:      15,
		},
		Ledger: LedgerConfig{Store: "memory"},
		Coordinator: CoordinatorConfig{
			SyncIntervalWithOrdersSeconds:    3,
			SyncIntervalWithoutOrdersSeconds: 30,
			SubmitTimeoutSeconds:             10,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSec <= 0 {
		return fmt.Errorf("rate_limit capacity/refill_per_sec must be positive")
	}
	if c.Stream.MaxReconnectDelaySeconds < c.Stream.ReconnectDelaySeconds {
		return fmt.Errorf("stream.max_reconnect_delay_seconds must be >= reconnect_delay_seconds")
	}
	switch c.Ledger.Store {
	case "memory":
	case "sqlite":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for sqlite store")
		}
	default:
		return fmt.Errorf("unknown ledger.store %q", c.Ledger.Store)
	}
	return nil
}

// ReconnectDelay 初始重连退避
func (c *StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// MaxReconnectDelay 重连退避上限
func (c *StreamConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(c.MaxReconnectDelaySeconds) * time.Second
}

// PingInterval 心跳间隔
func (c *StreamConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

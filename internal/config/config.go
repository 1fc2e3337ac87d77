package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvent string `mapstructure:"ledger_event"`
}

// LedgerConfig 记账核心的并发控制参数
type LedgerConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries    int           `mapstructure:"lock_max_retries"`
}

type BusinessConfig struct {
	TradingFeeRate             string        `mapstructure:"trading_fee_rate"`
	WithdrawFeeRate            string        `mapstructure:"withdraw_fee_rate"`
	FeeAccountID               string        `mapstructure:"fee_account_id"`
	P2PDefaultTimeLimitMinutes int           `mapstructure:"p2p_default_time_limit_minutes"`
	P2PExpireInterval          time.Duration `mapstructure:"p2p_expire_interval"`
	MiningSettleInterval       time.Duration `mapstructure:"mining_settle_interval"`
	OutboxInterval             time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount              int           `mapstructure:"max_retry_count"`
}

// TradingFee 交易手续费率（默认 0.1%）
func (b BusinessConfig) TradingFee() decimal.Decimal {
	return parseRate(b.TradingFeeRate, "0.001")
}

// WithdrawFee 提现手续费率（默认 1%）
func (b BusinessConfig) WithdrawFee() decimal.Decimal {
	return parseRate(b.WithdrawFeeRate, "0.01")
}

func parseRate(raw, fallback string) decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || rate.IsNegative() {
		return decimal.RequireFromString(fallback)
	}
	return rate
}

// LoadConfig 加载配置文件，环境变量 COINLEDGER_* 可覆盖任意配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return config, nil
}

// Default 返回仅包含默认值的配置，测试与本地调试使用
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	config := &Config{}
	_ = v.Unmarshal(config)
	return config
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("log.level", "info")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "coinledger")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_event", "ledger_event")

	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_backoff", "20ms")
	v.SetDefault("ledger.lock_ttl", "30s")
	v.SetDefault("ledger.lock_retry_interval", "50ms")
	v.SetDefault("ledger.lock_max_retries", 60)

	v.SetDefault("business.trading_fee_rate", "0.001")
	v.SetDefault("business.withdraw_fee_rate", "0.01")
	v.SetDefault("business.fee_account_id", "platform-fee")
	v.SetDefault("business.p2p_default_time_limit_minutes", 30)
	v.SetDefault("business.p2p_expire_interval", "30s")
	v.SetDefault("business.mining_settle_interval", "1m")
	v.SetDefault("business.outbox_interval", "200ms")
	v.SetDefault("business.max_retry_count", 5)
}

package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Invoicing InvoicingConfig `mapstructure:"invoicing"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
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
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BillingResult   string `mapstructure:"billing_result"`
	ReconcileResult string `mapstructure:"reconcile_result"`
}

// InvoicingConfig 开票渠道
type InvoicingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PaymentConfig 支付渠道（出站）
type PaymentConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// WebhookConfig 回调接入
type WebhookConfig struct {
	FallbackSecret string `mapstructure:"fallback_secret"` // 租户未解析时的进程级兜底密钥
	AllowUnsigned  bool   `mapstructure:"allow_unsigned"`  // 弱模式，仅测试/沙箱环境
}

// ReconcileConfig 对账跑批
type ReconcileConfig struct {
	DailyWindowHours    int `mapstructure:"daily_window_hours"`    // 短窗口，默认 24
	WeeklyWindowHours   int `mapstructure:"weekly_window_hours"`   // 深窗口，默认 168
	DailyIntervalHours  int `mapstructure:"daily_interval_hours"`  // 短跑批间隔
	WeeklyIntervalHours int `mapstructure:"weekly_interval_hours"` // 深跑批间隔
	BatchSize           int `mapstructure:"batch_size"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"` // outbox 投递最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trader-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string           `yaml:"env"`
	Bus        BusConfig        `yaml:"bus"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Alpaca     AlpacaConfig     `yaml:"alpaca"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Retry      RetryConfig      `yaml:"retry"`
	Log        logger.Config    `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Alert      AlertConfig      `yaml:"alert"`
}

const (
	BusKafka     = "kafka"
	BusWebSocket = "websocket"
)

type BusConfig struct {
	Kind         string `yaml:"kind"` // kafka | websocket
	WebSocketURL string `yaml:"websocketURL"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	GroupID          string   `yaml:"groupId"`
	Topic            string   `yaml:"topic"`
	SessionTimeoutMs int      `yaml:"sessionTimeoutMs"`
}

type AlpacaConfig struct {
	BaseURL   string  `yaml:"baseURL"`
	KeyID     string  `yaml:"keyID"`
	SecretKey string  `yaml:"secretKey"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RateLimit float64 `yaml:"rateLimit"` // 每秒请求数，0 表示不限
	Burst     int     `yaml:"burst"`
}

type DispatcherConfig struct {
	Concurrency    int  `yaml:"concurrency"` // <= 0 不限并发
	DryRun         bool `yaml:"dryRun"`
	DrainTimeoutMs int  `yaml:"drainTimeoutMs"`
	AcceptLegacy   bool `yaml:"acceptLegacy"` // 接受无 action 字段的旧格式
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"maxAttempts"`
	InitialDelayMs int     `yaml:"initialDelayMs"`
	MaxDelayMs     int     `yaml:"maxDelayMs"`
	Multiplier     float64 `yaml:"multiplier"`
	RetryAll       bool    `yaml:"retryAll"` // true 时不区分暂时性/终态错误
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type AlertConfig struct {
	ThrottleSeconds int    `yaml:"throttleSeconds"`
	WebhookURL      string `yaml:"webhookURL"`
}

// Default returns the configuration used for keys absent from the file.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Bus: BusConfig{Kind: BusKafka},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			GroupID:          "trader",
			Topic:            "intended-trades",
			SessionTimeoutMs: 6000,
		},
		Alpaca: AlpacaConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			TimeoutMs: 10000,
			Burst:     1,
		},
		Dispatcher: DispatcherConfig{
			Concurrency:    10,
			DrainTimeoutMs: 10000,
		},
		Retry: RetryConfig{
			MaxAttempts:    5,
			InitialDelayMs: 200,
			MaxDelayMs:     5000,
			Multiplier:     2,
		},
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9100", Namespace: "trader"},
		Alert:   AlertConfig{ThrottleSeconds: 300},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads .env files (missing ones are skipped), reads the
// YAML file, then applies SECTION__KEY environment overrides before validating.
func LoadWithEnvOverrides(path string, envFiles ...string) (AppConfig, error) {
	cfg, err := ReadWithEnvOverrides(path, envFiles...)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// ReadWithEnvOverrides 同 LoadWithEnvOverrides，但不校验；调用方叠加命令行覆盖后自行 Validate。
func ReadWithEnvOverrides(path string, envFiles ...string) (AppConfig, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func read(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("ALPACA__BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA__KEY_ID"); v != "" {
		cfg.Alpaca.KeyID = v
	}
	if v := os.Getenv("ALPACA__SECRET_KEY"); v != "" {
		cfg.Alpaca.SecretKey = v
	}
	if v := os.Getenv("KAFKA__BROKERS"); v != "" {
		cfg.Kafka.Brokers = SplitList(v)
	}
	if v := os.Getenv("KAFKA__GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := os.Getenv("KAFKA__TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Millis converts a millisecond config value.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

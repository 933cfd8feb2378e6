package config

import (
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and values are in range.
func Validate(cfg AppConfig) error {
	switch cfg.Bus.Kind {
	case BusKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return ErrInvalid("kafka.brokers is required")
		}
		if cfg.Kafka.GroupID == "" {
			return ErrInvalid("kafka.groupId is required")
		}
		if cfg.Kafka.Topic == "" {
			return ErrInvalid("kafka.topic is required")
		}
		if cfg.Kafka.SessionTimeoutMs < 0 {
			return ErrInvalid("kafka.sessionTimeoutMs must be >= 0")
		}
	case BusWebSocket:
		u, err := url.Parse(cfg.Bus.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return ErrInvalid("bus.websocketURL must be a ws:// or wss:// url")
		}
	default:
		return ErrInvalid(fmt.Sprintf("bus.kind %q must be kafka or websocket", cfg.Bus.Kind))
	}

	if !cfg.Dispatcher.DryRun {
		if cfg.Alpaca.KeyID == "" || cfg.Alpaca.SecretKey == "" {
			return ErrInvalid("alpaca.keyID/secretKey is required (or ALPACA__KEY_ID / ALPACA__SECRET_KEY)")
		}
		if u, err := url.Parse(cfg.Alpaca.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalid("alpaca.baseURL must be an absolute url")
		}
	}
	if cfg.Alpaca.TimeoutMs < 0 {
		return ErrInvalid("alpaca.timeoutMs must be >= 0")
	}
	if cfg.Alpaca.RateLimit < 0 || cfg.Alpaca.Burst < 0 {
		return ErrInvalid("alpaca.rateLimit/burst must be >= 0")
	}

	if cfg.Dispatcher.DrainTimeoutMs < 0 {
		return ErrInvalid("dispatcher.drainTimeoutMs must be >= 0")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return ErrInvalid("retry.maxAttempts must be >= 1")
	}
	if cfg.Retry.InitialDelayMs < 0 || cfg.Retry.MaxDelayMs < 0 {
		return ErrInvalid("retry delays must be >= 0")
	}
	if cfg.Retry.MaxDelayMs > 0 && cfg.Retry.MaxDelayMs < cfg.Retry.InitialDelayMs {
		return ErrInvalid("retry.maxDelayMs must be >= retry.initialDelayMs")
	}
	if cfg.Retry.Multiplier < 1 {
		return ErrInvalid("retry.multiplier must be >= 1")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return ErrInvalid(fmt.Sprintf("log.level %q is invalid", cfg.Log.Level))
	}
	if cfg.Alert.ThrottleSeconds < 0 {
		return ErrInvalid("alert.throttleSeconds must be >= 0")
	}
	return nil
}

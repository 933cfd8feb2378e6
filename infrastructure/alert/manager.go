package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Channel 告警通道接口
type Channel interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Manager 告警管理器。同一 level+message 在限流窗口内只发送一次。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送到所有通道；只有全部通道失败时才返回错误
func (m *Manager) SendAlert(ctx context.Context, alert Alert) error {
	if m == nil {
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil // 被限流，静默忽略
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("channel %s failed: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

// SendWarning 发送WARNING级别告警
func (m *Manager) SendWarning(ctx context.Context, message string, fields map[string]any) error {
	return m.SendAlert(ctx, Alert{Level: LevelWarning, Message: message, Fields: fields})
}

// SendError 发送ERROR级别告警
func (m *Manager) SendError(ctx context.Context, message string, fields map[string]any) error {
	return m.SendAlert(ctx, Alert{Level: LevelError, Message: message, Fields: fields})
}

// SendCritical 发送CRITICAL级别告警
func (m *Manager) SendCritical(ctx context.Context, message string, fields map[string]any) error {
	return m.SendAlert(ctx, Alert{Level: LevelCritical, Message: message, Fields: fields})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道名称
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

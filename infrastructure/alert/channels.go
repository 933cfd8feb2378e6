package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	logger *zap.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger.Named("alert"), name: name}
}

// Send 发送告警到日志
func (c *LogChannel) Send(_ context.Context, alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+2)
	fields = append(fields, zap.String("level", string(alert.Level)), zap.Time("alert_ts", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelInfo:
		c.logger.Info(alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Error(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string { return c.name }

// WebhookChannel 以 JSON POST 推送告警（Slack/飞书等兼容入口）
type WebhookChannel struct {
	URL    string
	Client *http.Client
	name   string
}

// NewWebhookChannel 创建 webhook 通道，默认 5s 超时
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		name:   name,
	}
}

// Send POST 告警内容，非 2xx 视为失败
func (c *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string { return c.name }

package container

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
)

// Notifier 向服务管理器上报状态（READY=1、STOPPING=1、WATCHDOG=1）
type Notifier interface {
	Notify(state string) (bool, error)
}

type sdNotifier struct{}

// Notify 非 systemd 环境下（无 NOTIFY_SOCKET）返回 false, nil
func (sdNotifier) Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// watchdogInterval 测试中替换
var watchdogInterval = func() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}

func (c *Container) notify(state string) {
	sent, err := c.notifier.Notify(state)
	if err != nil {
		c.logger.Warn("systemd_notify_failed", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		c.logger.Debug("systemd_notified", zap.String("state", state))
	}
}

// runWatchdog 按 WatchdogSec 的一半间隔喂狗，不健康时停止喂狗让 systemd 重启进程
func (c *Container) runWatchdog(ctx context.Context) {
	interval, err := watchdogInterval()
	if err != nil {
		c.logger.Warn("systemd_watchdog_unavailable", zap.Error(err))
		return
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.logger.Warn("watchdog_skipped", zap.Error(err))
				continue
			}
			c.notify(daemon.SdNotifyWatchdog)
		}
	}
}

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化，静默 Debounce 之后重新加载并回调。
// 监听所在目录，兼容编辑器先写临时文件再 rename 的保存方式。
type Watcher struct {
	Path     string
	Debounce time.Duration
	EnvFiles []string
	// Override 在校验前修改重新读取的配置（例如叠加命令行参数），可为 nil
	Override func(*AppConfig)
	// OnError 接收 fsnotify 错误与重载失败，可为 nil
	OnError func(error)
}

// Start blocks until ctx is done; callback receives the latest valid config.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Debounce <= 0 {
		w.Debounce = 200 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", target, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.report(err)
		case <-fire:
			fire = nil
			cfg, err := w.reload(target)
			if err != nil {
				w.report(fmt.Errorf("reload %s: %w", target, err))
				continue
			}
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}

func (w Watcher) reload(path string) (AppConfig, error) {
	cfg, err := ReadWithEnvOverrides(path, w.EnvFiles...)
	if err != nil {
		return cfg, err
	}
	if w.Override != nil {
		w.Override(&cfg)
	}
	return cfg, Validate(cfg)
}

func (w Watcher) report(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}

package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trader-go/bus"
	"trader-go/config"
	"trader-go/gateway"
	"trader-go/infrastructure/alert"
	"trader-go/infrastructure/logger"
	"trader-go/infrastructure/monitor"
	"trader-go/intent"
	"trader-go/internal/engine"
	"trader-go/order"
)

// Options 命令行覆盖项；空值表示沿用配置文件
type Options struct {
	ConfigPath  string
	EnvFile     string
	DryRun      bool
	Brokers     string
	GroupID     string
	MetricsAddr string
}

// Option 用于测试注入依赖
type Option func(*Container)

// WithBroker 替换券商客户端（仍会包一层监控适配器）
func WithBroker(b engine.Broker) Option { return func(c *Container) { c.broker = b } }

// WithSource 替换消息来源
func WithSource(s bus.Source) Option { return func(c *Container) { c.source = s } }

// WithLogger 替换日志器
func WithLogger(l *logger.Logger) Option { return func(c *Container) { c.logger = l } }

// WithNotifier 替换 systemd 通知
func WithNotifier(n Notifier) Option { return func(c *Container) { c.notifier = n } }

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        config.AppConfig
	configPath string
	opts       Options

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alerts   *alert.Manager
	notifier Notifier

	broker     engine.Broker
	source     bus.Source
	dispatcher *engine.Dispatcher
	admin      *httpServerComponent

	lifecycle *LifecycleManager

	cancel  context.CancelFunc
	runDone chan struct{}
	runErr  error
}

// New 加载配置（含 .env 与环境变量覆盖），再应用命令行覆盖
func New(opts Options, extra ...Option) (*Container, error) {
	cfg, err := config.ReadWithEnvOverrides(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	opts.apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := NewFromConfig(cfg, extra...)
	c.configPath = opts.ConfigPath
	c.opts = opts
	return c, nil
}

// apply 把命令行覆盖写入 cfg；启动与热更新共用
func (o Options) apply(cfg *config.AppConfig) {
	if o.DryRun {
		cfg.Dispatcher.DryRun = true
	}
	if o.Brokers != "" {
		cfg.Kafka.Brokers = config.SplitList(o.Brokers)
	}
	if o.GroupID != "" {
		cfg.Kafka.GroupID = o.GroupID
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
}

// NewFromConfig 使用已校验的配置
func NewFromConfig(cfg config.AppConfig, opts ...Option) *Container {
	c := &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
		notifier:  sdNotifier{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildBus(); err != nil {
		return fmt.Errorf("build bus failed: %w", err)
	}
	if err := c.buildDispatcher(); err != nil {
		return fmt.Errorf("build dispatcher failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container_built",
		zap.String("env", c.cfg.Env),
		zap.String("bus", c.cfg.Bus.Kind),
		zap.Bool("dry_run", c.cfg.Dispatcher.DryRun))
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		l, err := logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = l
	}

	monitorCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monitorCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monitorCfg)

	c.alerts = alert.NewManager(
		[]alert.Channel{alert.NewLogChannel("log", c.logger.Logger)},
		time.Duration(c.cfg.Alert.ThrottleSeconds)*time.Second)
	if c.cfg.Alert.WebhookURL != "" {
		c.alerts.AddChannel(alert.NewWebhookChannel("webhook", c.cfg.Alert.WebhookURL))
	}
	c.logger.Info("alert_channels", zap.Strings("channels", c.alerts.GetChannels()))
	return nil
}

func (c *Container) buildGateway() error {
	if c.broker == nil {
		if c.cfg.Dispatcher.DryRun {
			c.logger.Warn("dry_run_enabled", zap.String("note", "orders are not sent to the broker"))
			c.broker = gateway.DryRunBroker{}
		} else {
			c.broker = gateway.NewAlpacaRESTClient(gateway.AlpacaOptions{
				BaseURL:   c.cfg.Alpaca.BaseURL,
				KeyID:     c.cfg.Alpaca.KeyID,
				Secret:    c.cfg.Alpaca.SecretKey,
				Timeout:   config.Millis(c.cfg.Alpaca.TimeoutMs),
				RateLimit: c.cfg.Alpaca.RateLimit,
				Burst:     c.cfg.Alpaca.Burst,
			})
		}
	}
	c.broker = &brokerAdapter{broker: c.broker, logger: c.logger, monitor: c.monitor}
	return nil
}

func (c *Container) buildBus() error {
	if c.source != nil {
		return nil
	}
	switch c.cfg.Bus.Kind {
	case config.BusWebSocket:
		c.source = bus.NewWebSocketSource(c.cfg.Bus.WebSocketURL)
	case config.BusKafka:
		c.source = bus.NewKafkaSource(bus.KafkaConfig{
			Brokers:        c.cfg.Kafka.Brokers,
			GroupID:        c.cfg.Kafka.GroupID,
			Topic:          c.cfg.Kafka.Topic,
			SessionTimeout: config.Millis(c.cfg.Kafka.SessionTimeoutMs),
		}, c.logger.Named("kafka"))
	default:
		return fmt.Errorf("unknown bus kind %q", c.cfg.Bus.Kind)
	}
	return nil
}

func (c *Container) buildDispatcher() error {
	d, err := engine.New(engine.Config{
		Concurrency: c.cfg.Dispatcher.Concurrency,
		Retry:       c.cfg.Retry.Policy(gateway.IsRetryable),
		Decoder:     intent.Decoder{AcceptLegacy: c.cfg.Dispatcher.AcceptLegacy},
	}, engine.Components{
		Broker:  c.broker,
		Logger:  c.logger,
		Monitor: c.monitor,
		Alerts:  c.alerts,
	})
	if err != nil {
		return err
	}
	c.dispatcher = d
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		c.admin = &httpServerComponent{
			name:    "admin_server",
			handler: c.newAdminHandler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.admin)
	}
	if c.configPath != "" {
		c.lifecycle.Register(&loopComponent{name: "config_watcher", run: c.watchConfig})
	}
	c.lifecycle.Register(&loopComponent{name: "systemd_watchdog", run: c.runWatchdog})
}

// watchConfig 只热更新日志级别，其余字段需要重启生效
func (c *Container) watchConfig(ctx context.Context) {
	w := config.Watcher{
		Path:     c.configPath,
		EnvFiles: []string{c.opts.EnvFile},
		Override: c.opts.apply,
		OnError: func(err error) {
			c.logger.Warn("config_reload_failed", zap.Error(err))
		},
	}
	err := w.Start(ctx, func(cfg config.AppConfig) {
		if cfg.Log.Level == c.logger.Level().String() {
			return
		}
		if err := c.logger.SetLevel(cfg.Log.Level); err != nil {
			c.logger.Warn("config_reload_failed", zap.Error(err))
			return
		}
		c.logger.Info("log_level_changed", zap.String("level", cfg.Log.Level))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("config_watcher_stopped", zap.Error(err))
	}
}

// Start 启动生命周期组件与调度循环，随后上报 READY=1
func (c *Container) Start(ctx context.Context) error {
	if c.dispatcher == nil {
		return errors.New("container not built")
	}
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		c.runErr = c.dispatcher.Run(runCtx, c.source.Stream(runCtx))
		if runCtx.Err() == nil {
			// 未收到停止信号时消息流就结束了
			_ = c.alerts.SendCritical(context.Background(), "message stream ended", map[string]any{
				"bus":      c.cfg.Bus.Kind,
				"received": c.dispatcher.Stats().Received,
			})
		}
	}()

	c.notify(daemon.SdNotifyReady)
	c.logger.Info("container_started")
	return nil
}

// Done 在消息流结束（或停止拉取）且在途处理完成后关闭
func (c *Container) Done() <-chan struct{} { return c.runDone }

// Stop 停止拉取新消息，最多等待 drainTimeout 让在途请求完成，然后关闭各组件
func (c *Container) Stop() error {
	c.notify(daemon.SdNotifyStopping)
	c.logger.Info("container_stopping")

	var errs []error
	if c.cancel != nil {
		c.cancel()
		drain := config.Millis(c.cfg.Dispatcher.DrainTimeoutMs)
		timer := time.NewTimer(drain)
		select {
		case <-c.runDone:
			if c.runErr != nil {
				errs = append(errs, c.runErr)
			}
		case <-timer.C:
			st := c.dispatcher.Stats()
			c.logger.Warn("drain_timeout",
				zap.Duration("timeout", drain),
				zap.Int64("received", st.Received))
			_ = c.alerts.SendWarning(context.Background(), "shutdown drain timed out", map[string]any{
				"timeout":   drain.String(),
				"received":  st.Received,
				"submitted": st.Submitted,
			})
		}
		timer.Stop()
	}

	if c.source != nil {
		if err := c.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	if err := c.lifecycle.StopAll(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.LogError(err, zap.String("action", "stop"))
	}
	c.logger.Info("container_stopped", zap.Any("stats", c.dispatcher.Stats()))
	_ = c.logger.Close()
	return err
}

// HealthCheck 组件健康且调度器在运行
func (c *Container) HealthCheck() error {
	if err := c.lifecycle.CheckHealth(); err != nil {
		return err
	}
	if s := c.dispatcher.State(); s != engine.StateRunning {
		return fmt.Errorf("dispatcher %s", s)
	}
	return nil
}

// Stats 返回调度统计
func (c *Container) Stats() engine.Statistics { return c.dispatcher.Stats() }

// AdminAddr 返回管理端口实际监听地址
func (c *Container) AdminAddr() string {
	if c.admin == nil {
		return ""
	}
	return c.admin.Addr()
}

// brokerAdapter 记录每次 REST 调用的次数、耗时与错误
type brokerAdapter struct {
	broker  engine.Broker
	logger  *logger.Logger
	monitor *monitor.Monitor
}

func (a *brokerAdapter) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	start := time.Now()
	a.monitor.RecordRESTRequest("submit_order")

	o, err := a.broker.SubmitOrder(ctx, req)

	a.monitor.RecordRESTLatency("submit_order", time.Since(start).Seconds())
	if err != nil {
		a.monitor.RecordRESTError("submit_order")
		a.logger.Debug("rest_error",
			zap.String("action", "submit_order"),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))
		return o, err
	}
	return o, nil
}

func (a *brokerAdapter) CancelOrder(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	a.monitor.RecordRESTRequest("cancel_order")

	err := a.broker.CancelOrder(ctx, id)

	a.monitor.RecordRESTLatency("cancel_order", time.Since(start).Seconds())
	if err != nil {
		a.monitor.RecordRESTError("cancel_order")
		a.logger.Debug("rest_error",
			zap.String("action", "cancel_order"),
			zap.String("order_id", id.String()),
			zap.Error(err))
	}
	return err
}

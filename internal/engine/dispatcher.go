package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trader-go/bus"
	"trader-go/infrastructure/alert"
	"trader-go/infrastructure/logger"
	"trader-go/infrastructure/monitor"
	"trader-go/intent"
	"trader-go/internal/retry"
	"trader-go/order"
)

// ErrAlreadyRunning is returned when Run is called twice on one Dispatcher.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Broker 下单/撤单的外部券商，需并发安全。
type Broker interface {
	SubmitOrder(ctx context.Context, req order.Request) (order.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) error
}

// State 调度器状态
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Outcome 单条消息处理的终态
type Outcome int

const (
	OutcomeDropped Outcome = iota
	OutcomeSubmitted
	OutcomeSubmitFailed
	OutcomeCanceled
	OutcomeCancelFailed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeSubmitFailed:
		return "submit_failed"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeCancelFailed:
		return "cancel_failed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Config 调度配置
type Config struct {
	// 同时处理的消息上限，<= 0 表示不限
	Concurrency int
	Retry       retry.Policy
	Decoder     intent.Decoder
}

// Components 调度器依赖组件
type Components struct {
	Broker  Broker
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Alerts  *alert.Manager // 可为 nil
}

// Dispatcher 并发消费消息流：解码 → 归一化 → 转换 → 下单/撤单。
// 每条消息独立处理，互不阻塞；处理到终态后 Ack。
type Dispatcher struct {
	cfg     Config
	broker  Broker
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	state atomic.Int32
	stats stats
}

type stats struct {
	startTime       atomic.Int64
	received        atomic.Int64
	transportErrors atomic.Int64
	dropped         atomic.Int64
	submitted       atomic.Int64
	submitFailed    atomic.Int64
	rejected        atomic.Int64
	canceled        atomic.Int64
	cancelFailed    atomic.Int64
	lastMessage     atomic.Int64
}

// Statistics 调度统计快照
type Statistics struct {
	State           string    `json:"state"`
	StartTime       time.Time `json:"start_time"`
	Received        int64     `json:"received"`
	TransportErrors int64     `json:"transport_errors"`
	Dropped         int64     `json:"dropped"`
	Submitted       int64     `json:"submitted"`
	SubmitFailed    int64     `json:"submit_failed"`
	Rejected        int64     `json:"rejected"`
	Canceled        int64     `json:"canceled"`
	CancelFailed    int64     `json:"cancel_failed"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// New 创建调度器
func New(cfg Config, c Components) (*Dispatcher, error) {
	if c.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1, got %d", cfg.Retry.MaxAttempts)
	}
	if c.Monitor == nil {
		c.Monitor = monitor.New(monitor.Config{Namespace: "trader"})
	}
	return &Dispatcher{
		cfg:     cfg,
		broker:  c.Broker,
		logger:  c.Logger.With(zap.String("component", "dispatcher")),
		monitor: c.Monitor,
		alerts:  c.Alerts,
	}, nil
}

// Run 消费 stream 直到其结束或 ctx 取消。取消后不再拉取新消息，
// 已派发的处理继续在脱离取消的 context 上完成，Run 等待它们全部结束后返回。
func (d *Dispatcher) Run(ctx context.Context, stream iter.Seq2[bus.Message, error]) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	defer d.state.Store(int32(StateStopped))
	d.stats.startTime.Store(time.Now().UnixNano())

	limit := d.cfg.Concurrency
	if limit <= 0 {
		limit = -1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	work := context.WithoutCancel(ctx)

	d.logger.Info("dispatcher_started", zap.Int("concurrency", d.cfg.Concurrency))
	for msg, err := range stream {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			d.stats.transportErrors.Add(1)
			d.monitor.RecordTransportError()
			d.logger.LogMessage(logger.EventTransportError, zap.Error(err))
			continue
		}
		d.stats.received.Add(1)
		d.stats.lastMessage.Store(time.Now().UnixNano())
		d.monitor.RecordMessage()
		// 达到并发上限时阻塞在这里，形成背压
		g.Go(func() error {
			d.Handle(work, msg)
			return nil
		})
	}

	_ = g.Wait()
	d.logger.Info("dispatcher_stopped", zap.Int64("received", d.stats.received.Load()))
	return nil
}

// Handle 同步处理一条消息直到终态，然后 Ack。
func (d *Dispatcher) Handle(ctx context.Context, msg bus.Message) Outcome {
	done := d.monitor.TrackInFlight()
	defer done()
	defer msg.Ack()

	m, err := d.cfg.Decoder.Decode(msg.Payload)
	if err != nil {
		d.drop(msg, err)
		return OutcomeDropped
	}

	switch m := m.(type) {
	case intent.New:
		return d.submit(ctx, m.Intent)
	case intent.Cancel:
		return d.cancel(ctx, m.ID)
	default:
		panic(fmt.Sprintf("engine: unhandled message type %T", m))
	}
}

func (d *Dispatcher) drop(msg bus.Message, err error) {
	kind := "schema_mismatch"
	var de *intent.DecodeError
	if errors.As(err, &de) {
		kind = de.Label()
	}
	d.stats.dropped.Add(1)
	d.monitor.RecordDecodeError(kind)
	d.logger.LogMessage(logger.EventMessageDropped,
		zap.String("kind", kind),
		zap.Error(err),
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
}

func (d *Dispatcher) submit(ctx context.Context, t intent.TradeIntent) Outcome {
	n := intent.Normalize(t)
	if intent.HasZeroPrice(n) {
		// 不足 1 分的价格取整后为 0，券商必然拒绝，不再发送
		d.stats.rejected.Add(1)
		d.monitor.RecordOrderRejected("zero_price")
		d.logger.LogMessage(logger.EventOrderRejected,
			zap.String("client_order_id", n.ID.String()),
			zap.String("symbol", n.Ticker),
			zap.String("reason", "zero_price"))
		return OutcomeRejected
	}
	req := order.Translate(n)
	fields := []zap.Field{
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Uint64("qty", req.Qty),
		zap.String("type", string(req.Type)),
		zap.String("time_in_force", string(req.TimeInForce)),
	}

	ord, attempts, err := retry.Do(ctx, d.cfg.Retry, func(ctx context.Context, attempt int) (order.Order, error) {
		o, err := d.broker.SubmitOrder(ctx, req)
		if err != nil && attempt < d.cfg.Retry.MaxAttempts {
			d.logger.Debug("submit_attempt_failed",
				zap.String("client_order_id", req.ClientOrderID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return o, err
	})
	if err != nil {
		class := d.failureClass(err, attempts)
		d.stats.submitFailed.Add(1)
		d.monitor.RecordSubmitFailure(class, attempts)
		d.logger.LogError(err, append(fields,
			zap.String("event", logger.EventSubmitFailed),
			zap.String("client_order_id", req.ClientOrderID),
			zap.String("class", class),
			zap.Int("attempts", attempts))...)
		_ = d.alerts.SendError(ctx, "order submission failed", map[string]any{
			"symbol":          req.Symbol,
			"client_order_id": req.ClientOrderID,
			"class":           class,
			"attempts":        attempts,
			"error":           err.Error(),
		})
		return OutcomeSubmitFailed
	}

	d.stats.submitted.Add(1)
	d.monitor.RecordOrderSubmitted(attempts)
	d.logger.LogOrder(logger.EventOrderSubmitted, req.ClientOrderID, append(fields,
		zap.String("order_id", ord.ID),
		zap.String("status", string(ord.Status)),
		zap.Int("attempts", attempts))...)
	return OutcomeSubmitted
}

// failureClass: aborted 因 context 结束；terminal 策略判定不可重试；exhausted 用尽重试
func (d *Dispatcher) failureClass(err error, attempts int) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted"
	case d.cfg.Retry.Retryable != nil && !d.cfg.Retry.Retryable(err):
		return "terminal"
	case attempts >= d.cfg.Retry.MaxAttempts:
		return "exhausted"
	default:
		return "terminal"
	}
}

// cancel 撤单不重试
func (d *Dispatcher) cancel(ctx context.Context, id uuid.UUID) Outcome {
	if err := d.broker.CancelOrder(ctx, id); err != nil {
		d.stats.cancelFailed.Add(1)
		d.monitor.RecordCancelFailure()
		d.logger.LogError(err,
			zap.String("event", logger.EventCancelFailed),
			zap.String("order_id", id.String()))
		return OutcomeCancelFailed
	}
	d.stats.canceled.Add(1)
	d.monitor.RecordOrderCanceled()
	d.logger.LogOrder(logger.EventOrderCanceled, "", zap.String("order_id", id.String()))
	return OutcomeCanceled
}

// State 返回当前状态
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Stats 返回统计快照
func (d *Dispatcher) Stats() Statistics {
	s := Statistics{
		State:           d.State().String(),
		Received:        d.stats.received.Load(),
		TransportErrors: d.stats.transportErrors.Load(),
		Dropped:         d.stats.dropped.Load(),
		Submitted:       d.stats.submitted.Load(),
		SubmitFailed:    d.stats.submitFailed.Load(),
		Rejected:        d.stats.rejected.Load(),
		Canceled:        d.stats.canceled.Load(),
		CancelFailed:    d.stats.cancelFailed.Load(),
	}
	if ns := d.stats.startTime.Load(); ns != 0 {
		s.StartTime = time.Unix(0, ns).UTC()
	}
	if ns := d.stats.lastMessage.Load(); ns != 0 {
		s.LastMessageTime = time.Unix(0, ns).UTC()
	}
	return s
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trader-go/bus"
	"trader-go/gateway"
	"trader-go/infrastructure/logger"
	"trader-go/infrastructure/monitor"
	"trader-go/intent"
	"trader-go/internal/retry"
	"trader-go/order"
)

const aaplNew = `{"action":"new","intent":{"ticker":"AAPL","qty":1,"order_type":"limit","limit_price":100,"time_in_force":"gtc","id":"904837e3-3b76-47ec-b432-046db621571b"}}`
const aaplCancel = `{"action":"cancel","id":"904837e3-3b76-47ec-b432-046db621571b"}`

// fakeBroker 记录调用；submitErrs 依次作为前几次下单的返回错误
type fakeBroker struct {
	mu         sync.Mutex
	submits    []order.Request
	cancels    []uuid.UUID
	submitErrs []error
	cancelErr  error
	delay      time.Duration
	inFlight   atomic.Int32
	peak       atomic.Int32
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, req)
	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		if err != nil {
			return order.Order{}, err
		}
	}
	return order.Order{ID: fmt.Sprintf("ord-%d", len(b.submits)), ClientOrderID: req.ClientOrderID, Status: order.StatusAccepted}, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, id)
	return b.cancelErr
}

func (b *fakeBroker) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submits), len(b.cancels)
}

func newTestDispatcher(t *testing.T, b Broker, cfg Config) (*Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 3, Backoff: retry.Constant(0), Retryable: gateway.IsRetryable}
	}
	d, err := New(cfg, Components{
		Broker:  b,
		Logger:  logger.Wrap(zap.New(core)),
		Monitor: monitor.New(monitor.Config{Namespace: "test"}),
	})
	require.NoError(t, err)
	return d, logs
}

// events 统计某事件的条数，并校验每条事件日志的必需字段
func events(t *testing.T, logs *observer.ObservedLogs, name string) int {
	t.Helper()
	n := 0
	for _, e := range logs.All() {
		fields := e.ContextMap()
		event, _ := fields["event"].(string)
		assert.NoError(t, logger.ValidateEvent(event, fields))
		if event == name {
			n++
		}
	}
	return n
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Config{Retry: retry.Policy{MaxAttempts: 1}}, Components{Logger: logger.NewNop()})
	assert.Error(t, err)
	_, err = New(Config{Retry: retry.Policy{MaxAttempts: 1}}, Components{Broker: &fakeBroker{}})
	assert.Error(t, err)
	_, err = New(Config{}, Components{Broker: &fakeBroker{}, Logger: logger.NewNop()})
	assert.Error(t, err)
}

func TestHandleNewLimitEndToEnd(t *testing.T) {
	b := &fakeBroker{}
	d, logs := newTestDispatcher(t, b, Config{})

	acked := 0
	msg := bus.NewMessage([]byte(aaplNew)).WithAck(func() { acked++ })
	assert.Equal(t, OutcomeSubmitted, d.Handle(context.Background(), msg))
	assert.Equal(t, 1, acked)

	require.Len(t, b.submits, 1)
	req := b.submits[0]
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, uint64(1), req.Qty)
	assert.Equal(t, order.Buy, req.Side)
	assert.Equal(t, order.TypeLimit, req.Type)
	require.NotNil(t, req.LimitPrice)
	assert.Equal(t, "100.00", req.LimitPrice.StringFixed(2))
	assert.Nil(t, req.StopPrice)
	assert.Equal(t, order.GoodTilCancelled, req.TimeInForce)
	assert.Equal(t, "904837e3-3b76-47ec-b432-046db621571b", req.ClientOrderID)
	assert.Empty(t, b.cancels)

	assert.Equal(t, 1, events(t, logs, "order_submitted"))
	assert.Equal(t, int64(1), d.Stats().Submitted)
}

func TestHandleNormalizesBeforeSubmit(t *testing.T) {
	b := &fakeBroker{}
	d, _ := newTestDispatcher(t, b, Config{})
	payload := `{"action":"new","intent":{"ticker":"MSFT","qty":-3,"order_type":"stop_limit","stop_price":"7.771","limit_price":"7.777","time_in_force":"day","id":"2d7b1f4e-4f0b-4f59-9a57-5c7c1d9b7a10"}}`
	require.Equal(t, OutcomeSubmitted, d.Handle(context.Background(), bus.NewMessage([]byte(payload))))

	req := b.submits[0]
	assert.Equal(t, order.Sell, req.Side)
	assert.Equal(t, uint64(3), req.Qty)
	assert.True(t, req.StopPrice.Equal(decimal.RequireFromString("7.77")))
	assert.True(t, req.LimitPrice.Equal(decimal.RequireFromString("7.78")))
}

func TestHandleRejectsSubCentBuyLimit(t *testing.T) {
	b := &fakeBroker{}
	d, logs := newTestDispatcher(t, b, Config{})
	payload := `{"action":"new","intent":{"ticker":"PENNY","qty":100,"order_type":"limit","limit_price":"0.004","time_in_force":"day","id":"6a0c3b52-1d8e-4a57-9f0e-2b7c4e8d9a11"}}`

	acked := 0
	msg := bus.NewMessage([]byte(payload)).WithAck(func() { acked++ })
	assert.Equal(t, OutcomeRejected, d.Handle(context.Background(), msg))
	assert.Equal(t, 1, acked)

	submits, _ := b.counts()
	assert.Zero(t, submits, "zero price must not reach the broker")
	rejected := logs.FilterField(zap.String("event", "order_rejected")).All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "zero_price", rejected[0].ContextMap()["reason"])
	assert.Equal(t, 1, events(t, logs, "order_rejected"))
	assert.Equal(t, int64(1), d.Stats().Rejected)
}

func TestHandleCancelEndToEnd(t *testing.T) {
	b := &fakeBroker{}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeCanceled, d.Handle(context.Background(), bus.NewMessage([]byte(aaplCancel))))
	require.Len(t, b.cancels, 1)
	assert.Equal(t, "904837e3-3b76-47ec-b432-046db621571b", b.cancels[0].String())
	assert.Empty(t, b.submits)
	assert.Equal(t, 1, events(t, logs, "order_canceled"))
}

func TestCancelFailureIsNotRetried(t *testing.T) {
	b := &fakeBroker{cancelErr: errors.New("connection reset")}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeCancelFailed, d.Handle(context.Background(), bus.NewMessage([]byte(aaplCancel))))
	_, cancels := b.counts()
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 1, events(t, logs, "cancel_failed"))
}

func TestSubmitRetriesUntilSuccess(t *testing.T) {
	transient := errors.New("dial tcp: connection refused")
	b := &fakeBroker{submitErrs: []error{transient, transient}}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeSubmitted, d.Handle(context.Background(), bus.NewMessage([]byte(aaplNew))))
	submits, _ := b.counts()
	assert.Equal(t, 3, submits)
	assert.Equal(t, 2, logs.FilterMessage("submit_attempt_failed").Len())
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	unavailable := &gateway.APIError{StatusCode: http.StatusServiceUnavailable}
	b := &fakeBroker{submitErrs: []error{unavailable, unavailable, unavailable, unavailable}}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeSubmitFailed, d.Handle(context.Background(), bus.NewMessage([]byte(aaplNew))))
	submits, _ := b.counts()
	assert.Equal(t, 3, submits)

	failed := logs.FilterField(zap.String("event", "submit_failed")).All()
	require.Len(t, failed, 1)
	assert.Equal(t, "exhausted", failed[0].ContextMap()["class"])
	assert.EqualValues(t, 3, failed[0].ContextMap()["attempts"])
}

func TestSubmitTerminalErrorShortCircuits(t *testing.T) {
	rejected := &gateway.APIError{StatusCode: http.StatusForbidden, Message: "insufficient buying power"}
	b := &fakeBroker{submitErrs: []error{rejected}}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeSubmitFailed, d.Handle(context.Background(), bus.NewMessage([]byte(aaplNew))))
	submits, _ := b.counts()
	assert.Equal(t, 1, submits)
	failed := logs.FilterField(zap.String("event", "submit_failed")).All()
	require.Len(t, failed, 1)
	assert.Equal(t, "terminal", failed[0].ContextMap()["class"])
}

func TestSubmitTerminalErrorOnLastAttempt(t *testing.T) {
	unavailable := &gateway.APIError{StatusCode: http.StatusServiceUnavailable}
	rejected := &gateway.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "invalid symbol"}
	b := &fakeBroker{submitErrs: []error{unavailable, unavailable, rejected}}
	d, logs := newTestDispatcher(t, b, Config{})

	assert.Equal(t, OutcomeSubmitFailed, d.Handle(context.Background(), bus.NewMessage([]byte(aaplNew))))
	submits, _ := b.counts()
	assert.Equal(t, 3, submits)
	failed := logs.FilterField(zap.String("event", "submit_failed")).All()
	require.Len(t, failed, 1)
	assert.Equal(t, "terminal", failed[0].ContextMap()["class"])
	assert.EqualValues(t, 3, failed[0].ContextMap()["attempts"])
}

func TestSubmitRetryAllPolicyRetriesRejections(t *testing.T) {
	rejected := &gateway.APIError{StatusCode: http.StatusUnprocessableEntity}
	b := &fakeBroker{submitErrs: []error{rejected, rejected}}
	d, _ := newTestDispatcher(t, b, Config{Retry: retry.Policy{MaxAttempts: 2}})

	assert.Equal(t, OutcomeSubmitFailed, d.Handle(context.Background(), bus.NewMessage([]byte(aaplNew))))
	submits, _ := b.counts()
	assert.Equal(t, 2, submits)
}

func TestRunOneUndecodable(t *testing.T) {
	const m = 20
	payloads := make([][]byte, 0, m)
	for i := range m - 1 {
		if i%2 == 0 {
			payloads = append(payloads, fmt.Appendf(nil,
				`{"action":"new","intent":{"ticker":"T%d","qty":%d,"order_type":"market","time_in_force":"day","id":"%s"}}`,
				i, i+1, uuid.NewString()))
		} else {
			payloads = append(payloads, fmt.Appendf(nil, `{"action":"cancel","id":"%s"}`, uuid.NewString()))
		}
	}
	payloads = slices.Insert(payloads, m/2, []byte("not json"))
	require.Len(t, payloads, m)

	b := &fakeBroker{delay: time.Millisecond}
	d, logs := newTestDispatcher(t, b, Config{Concurrency: 4})

	var acks atomic.Int32
	src := bus.Payloads(payloads...)
	for i := range src.Items {
		src.Items[i].Msg = src.Items[i].Msg.WithAck(func() { acks.Add(1) })
	}
	require.NoError(t, d.Run(context.Background(), src.Stream(context.Background())))

	submits, cancels := b.counts()
	assert.Equal(t, m-1, submits+cancels)
	assert.Equal(t, 1, events(t, logs, "message_dropped"))
	assert.EqualValues(t, m, acks.Load())
	assert.LessOrEqual(t, b.peak.Load(), int32(4))

	st := d.Stats()
	assert.Equal(t, "STOPPED", st.State)
	assert.Equal(t, int64(m), st.Received)
	assert.Equal(t, int64(1), st.Dropped)
}

func TestRunTransportErrorsContinue(t *testing.T) {
	b := &fakeBroker{}
	d, logs := newTestDispatcher(t, b, Config{})
	src := &bus.SliceSource{Items: []bus.Item{
		{Err: errors.New("broker transport failure")},
		{Msg: bus.NewMessage([]byte(aaplNew))},
		{Err: errors.New("rebalance in progress")},
		{Msg: bus.NewMessage([]byte(aaplCancel))},
	}}
	require.NoError(t, d.Run(context.Background(), src.Stream(context.Background())))

	submits, cancels := b.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 2, events(t, logs, "transport_error"))
	assert.Equal(t, int64(2), d.Stats().TransportErrors)
}

func TestRunTwice(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeBroker{}, Config{})
	require.NoError(t, d.Run(context.Background(), bus.Payloads().Stream(context.Background())))
	assert.ErrorIs(t, d.Run(context.Background(), bus.Payloads().Stream(context.Background())), ErrAlreadyRunning)
}

// blockingBroker 在 release 关闭前阻塞下单
type blockingBroker struct {
	fakeBroker
	started chan struct{}
	release chan struct{}
	ctxErr  atomic.Value
}

func (b *blockingBroker) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	close(b.started)
	<-b.release
	if err := ctx.Err(); err != nil {
		b.ctxErr.Store(err)
	}
	return b.fakeBroker.SubmitOrder(ctx, req)
}

func TestShutdownDoesNotCancelInFlight(t *testing.T) {
	b := &blockingBroker{started: make(chan struct{}), release: make(chan struct{})}
	d, _ := newTestDispatcher(t, b, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	src := bus.Payloads([]byte(aaplNew), []byte(aaplCancel))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, src.Stream(ctx)) }()

	<-b.started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before the in-flight submission finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(b.release)
	require.NoError(t, <-done)

	assert.Nil(t, b.ctxErr.Load(), "in-flight submission saw a cancelled context")
	submits, _ := b.counts()
	assert.Equal(t, 1, submits)
}

func TestDecodeFailureKinds(t *testing.T) {
	d, logs := newTestDispatcher(t, &fakeBroker{}, Config{})
	for _, p := range [][]byte{nil, {0xff, 0xfe}, []byte(`{"action":"close"}`)} {
		assert.Equal(t, OutcomeDropped, d.Handle(context.Background(), bus.NewMessage(p)))
	}
	var kinds []string
	for _, e := range logs.FilterField(zap.String("event", "message_dropped")).All() {
		kinds = append(kinds, e.ContextMap()["kind"].(string))
	}
	assert.Equal(t, []string{"empty", "invalid_text", "schema_mismatch"}, kinds)
}

func TestLegacyDecoderOption(t *testing.T) {
	legacy := []byte(`{"ticker":"AAPL","qty":2,"order_type":"market","time_in_force":"day","id":"904837e3-3b76-47ec-b432-046db621571b"}`)

	strict, _ := newTestDispatcher(t, &fakeBroker{}, Config{})
	assert.Equal(t, OutcomeDropped, strict.Handle(context.Background(), bus.NewMessage(legacy)))

	b := &fakeBroker{}
	lenient, _ := newTestDispatcher(t, b, Config{Decoder: intent.Decoder{AcceptLegacy: true}})
	assert.Equal(t, OutcomeSubmitted, lenient.Handle(context.Background(), bus.NewMessage(legacy)))
	assert.Equal(t, order.TypeMarket, b.submits[0].Type)
}

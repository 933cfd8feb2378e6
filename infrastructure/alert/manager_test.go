package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// mockChannel 记录收到的告警
type mockChannel struct {
	name   string
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *mockChannel) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func TestSendAlert(t *testing.T) {
	mock := &mockChannel{name: "mock"}
	mgr := NewManager([]Channel{mock}, time.Minute)

	err := mgr.SendError(context.Background(), "submit failed", map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)
	require.Equal(t, 1, mock.count())

	a := mock.alerts[0]
	assert.Equal(t, LevelError, a.Level)
	assert.Equal(t, "AAPL", a.Fields["symbol"])
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, []string{"mock"}, mgr.GetChannels())
}

func TestThrottle(t *testing.T) {
	mock := &mockChannel{name: "mock"}
	mgr := NewManager([]Channel{mock}, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.throttle.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, mgr.SendWarning(ctx, "same", nil))
	require.NoError(t, mgr.SendWarning(ctx, "same", nil))
	require.NoError(t, mgr.SendWarning(ctx, "other", nil))
	assert.Equal(t, 2, mock.count())

	now = now.Add(time.Minute)
	require.NoError(t, mgr.SendWarning(ctx, "same", nil))
	assert.Equal(t, 3, mock.count())

	mgr.ResetThrottle()
	require.NoError(t, mgr.SendWarning(ctx, "same", nil))
	assert.Equal(t, 4, mock.count())
}

func TestSendAlertPartialFailure(t *testing.T) {
	bad := &mockChannel{name: "bad", err: errors.New("down")}
	good := &mockChannel{name: "good"}
	mgr := NewManager([]Channel{bad, good}, 0)
	assert.NoError(t, mgr.SendCritical(context.Background(), "x", nil))
	assert.Equal(t, 1, good.count())

	onlyBad := NewManager([]Channel{bad}, 0)
	err := onlyBad.SendCritical(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel bad failed")
}

func TestNilManagerIsNoop(t *testing.T) {
	var mgr *Manager
	assert.NoError(t, mgr.SendError(context.Background(), "x", nil))
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mgr := NewManager(nil, 0)
	mgr.AddChannel(NewLogChannel("log", zap.New(core)))

	require.NoError(t, mgr.SendWarning(context.Background(), "retry exhausted", map[string]any{"attempts": 5}))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "retry exhausted", entries[0].Message)
	assert.EqualValues(t, 5, entries[0].ContextMap()["attempts"])
}

func TestWebhookChannel(t *testing.T) {
	var got Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	ch := NewWebhookChannel("hook", ts.URL)
	require.NoError(t, ch.Send(context.Background(), Alert{Level: LevelError, Message: "boom"}))
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "boom", got.Message)
}

func TestWebhookChannelNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewWebhookChannel("hook", ts.URL).Send(context.Background(), Alert{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

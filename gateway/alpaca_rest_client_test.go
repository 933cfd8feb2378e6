package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader-go/order"
)

const testID = "904837e3-3b76-47ec-b432-046db621571b"

func newTestClient(ts *httptest.Server) *AlpacaRESTClient {
	return &AlpacaRESTClient{
		BaseURL:    ts.URL,
		KeyID:      "key",
		Secret:     "secret",
		HTTPClient: ts.Client(),
	}
}

func TestAlpacaRESTClientSubmitCancel(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/orders":
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &gotBody); err != nil {
				t.Errorf("decode body: %v", err)
			}
			io.WriteString(w, `{"id":"ord-1","client_order_id":"`+testID+`","symbol":"AAPL","qty":"1","side":"buy","type":"limit","status":"accepted"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/v2/orders/"+testID:
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	cli := newTestClient(ts)
	price := decimal.RequireFromString("100")
	o, err := cli.SubmitOrder(context.Background(), order.Request{
		Symbol:        "AAPL",
		Qty:           1,
		Side:          order.Buy,
		Type:          order.TypeLimit,
		LimitPrice:    &price,
		TimeInForce:   order.GoodTilCancelled,
		ClientOrderID: testID,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, order.StatusAccepted, o.Status)
	assert.Equal(t, map[string]string{
		"symbol":          "AAPL",
		"qty":             "1",
		"side":            "buy",
		"type":            "limit",
		"limit_price":     "100.00",
		"time_in_force":   "gtc",
		"client_order_id": testID,
	}, gotBody)

	require.NoError(t, cli.CancelOrder(context.Background(), uuid.MustParse(testID)))
}

func TestAlpacaRESTClientAPIError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		io.WriteString(w, `{"code":40010001,"message":"qty must be > 0"}`)
	}))
	defer ts.Close()
	cli := newTestClient(ts)

	_, err := cli.SubmitOrder(context.Background(), order.Request{Symbol: "AAPL", Qty: 1, Side: order.Buy, Type: order.TypeMarket})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, 40010001, apiErr.Code)
	assert.Equal(t, "qty must be > 0", apiErr.Message)
	assert.False(t, IsRetryable(err))

	status.Store(http.StatusServiceUnavailable)
	err = cli.CancelOrder(context.Background(), uuid.New())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "cancel", apiErr.Action)
	assert.True(t, IsRetryable(err))
}

func TestAlpacaRESTClientNonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).SubmitOrder(context.Background(), order.Request{Symbol: "AAPL", Qty: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestAlpacaRESTClientNilHTTPClient(t *testing.T) {
	var cli *AlpacaRESTClient
	_, err := cli.SubmitOrder(context.Background(), order.Request{})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(&APIError{StatusCode: 429}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 408}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 500}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 403}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 404}))
}

func TestNewAlpacaRESTClientDefaults(t *testing.T) {
	cli := NewAlpacaRESTClient(AlpacaOptions{KeyID: "k", Secret: "s", Timeout: 3 * time.Second, RateLimit: 5})
	assert.Equal(t, PaperTradingURL, cli.BaseURL)
	assert.Equal(t, 3*time.Second, cli.HTTPClient.Timeout)
	require.NotNil(t, cli.Limiter)
	assert.Equal(t, 1, cli.Limiter.Burst())

	cli = NewAlpacaRESTClient(AlpacaOptions{BaseURL: "https://api.alpaca.markets/"})
	assert.Equal(t, "https://api.alpaca.markets", cli.BaseURL)
	assert.Nil(t, cli.Limiter)
}

func TestDryRunBroker(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := DryRunBroker{Now: func() time.Time { return fixed }}
	stop := decimal.RequireFromString("7.5")
	o, err := b.SubmitOrder(context.Background(), order.Request{
		Symbol: "MSFT", Qty: 2, Side: order.Sell, Type: order.TypeStop, StopPrice: &stop,
		TimeInForce: order.Day, ClientOrderID: "cid",
	})
	require.NoError(t, err)
	assert.Equal(t, "cid", o.ClientOrderID)
	assert.Equal(t, "2", o.Qty)
	assert.Equal(t, "7.50", o.StopPrice)
	assert.Equal(t, fixed, o.SubmittedAt)
	assert.NoError(t, b.CancelOrder(context.Background(), uuid.New()))
}

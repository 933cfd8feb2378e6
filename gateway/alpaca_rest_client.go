package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"trader-go/order"
)

// PaperTradingURL is the default Alpaca endpoint (paper account).
const PaperTradingURL = "https://paper-api.alpaca.markets"

// AlpacaRESTClient 调用 Alpaca 订单接口；HTTPClient 可注入 httptest。
// 只读字段，可被多个 goroutine 并发使用。
type AlpacaRESTClient struct {
	BaseURL    string
	KeyID      string
	Secret     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// AlpacaOptions 构造客户端的参数。
type AlpacaOptions struct {
	BaseURL   string
	KeyID     string
	Secret    string
	Timeout   time.Duration
	RateLimit float64 // 每秒请求数，<=0 表示不限流
	Burst     int
}

// NewAlpacaRESTClient 根据选项构建客户端。
func NewAlpacaRESTClient(opts AlpacaOptions) *AlpacaRESTClient {
	httpCli := NewDefaultHTTPClient()
	if opts.Timeout > 0 {
		httpCli.Timeout = opts.Timeout
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = PaperTradingURL
	}
	c := &AlpacaRESTClient{
		BaseURL:    base,
		KeyID:      opts.KeyID,
		Secret:     opts.Secret,
		HTTPClient: httpCli,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// SubmitOrder 调用 POST /v2/orders 下单。
func (c *AlpacaRESTClient) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	var out order.Order
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("encode order: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/v2/orders", body)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return out, decodeAPIError("submit", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode order: %w", err)
	}
	if out.ID == "" {
		return out, fmt.Errorf("empty order id")
	}
	return out, nil
}

// CancelOrder 调用 DELETE /v2/orders/{id} 撤单。
func (c *AlpacaRESTClient) CancelOrder(ctx context.Context, id uuid.UUID) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v2/orders/"+id.String(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError("cancel", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *AlpacaRESTClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.HTTPClient.Do(req)
}

func decodeAPIError(action string, resp *http.Response) error {
	apiErr := &APIError{Action: action, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
	}
	return apiErr
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

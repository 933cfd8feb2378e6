package bus

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trader-go/internal/retry"
)

// WebSocketSource 订阅一个推送交易指令的 WebSocket 端点，每个文本/二进制帧是一条消息。
// 连接断开时把错误作为传输错误交给消费方，然后按退避重连。WebSocket 没有位点，Ack 为空操作。
type WebSocketSource struct {
	URL       string
	Header    http.Header
	Dialer    *websocket.Dialer
	Reconnect retry.Backoff

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketSource uses the default dialer and a 500ms..30s reconnect backoff.
func NewWebSocketSource(url string) *WebSocketSource {
	return &WebSocketSource{
		URL:       url,
		Dialer:    websocket.DefaultDialer,
		Reconnect: retry.Exponential(500*time.Millisecond, 30*time.Second, 2),
	}
}

func (s *WebSocketSource) Stream(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		stop := context.AfterFunc(ctx, func() { _ = s.Close() })
		defer stop()

		failures := 0
		var seq int64
		for ctx.Err() == nil {
			conn, err := s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil || s.isClosed() {
					return
				}
				failures++
				if !yield(Message{}, fmt.Errorf("ws dial: %w", err)) {
					return
				}
				if !sleepCtx(ctx, s.backoff(failures)) {
					return
				}
				continue
			}
			failures = 0

			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					s.drop(conn)
					if ctx.Err() != nil {
						return
					}
					failures++
					if !yield(Message{}, fmt.Errorf("ws read: %w", err)) {
						return
					}
					if !sleepCtx(ctx, s.backoff(failures)) {
						return
					}
					break
				}
				msg := NewMessage(payload)
				msg.Topic = s.URL
				msg.Offset = seq
				msg.Time = time.Now().UTC()
				seq++
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("source closed")
	}
	s.mu.Unlock()

	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, fmt.Errorf("source closed")
	}
	s.conn = conn
	return conn, nil
}

func (s *WebSocketSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *WebSocketSource) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
	conn.Close()
}

func (s *WebSocketSource) backoff(failures int) time.Duration {
	if s.Reconnect == nil {
		return time.Second
	}
	return s.Reconnect(failures)
}

// Close 关闭当前连接并阻止后续重连。
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

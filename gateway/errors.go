package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError 表示 broker 返回的非 2xx 响应。
type APIError struct {
	Action     string `json:"-"`
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s status %d: %s (code %d)", e.Action, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("%s status %d", e.Action, e.StatusCode)
}

// Temporary reports whether the response signals a transient condition.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable 区分暂时性失败与终态失败：
// 网络/传输错误、408、429、5xx 可重试；其余 4xx（参数错误、资金不足、被拒单）直接失败。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

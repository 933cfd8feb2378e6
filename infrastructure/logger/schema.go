package logger

import (
	"fmt"
	"sort"
	"strings"
)

// 调度流水线的日志事件名
const (
	EventTransportError = "transport_error"
	EventMessageDropped = "message_dropped"
	EventOrderSubmitted = "order_submitted"
	EventSubmitFailed   = "submit_failed"
	EventOrderRejected  = "order_rejected"
	EventOrderCanceled  = "order_canceled"
	EventCancelFailed   = "cancel_failed"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	EventTransportError: {Event: EventTransportError, Required: []string{"error"}},
	EventMessageDropped: {Event: EventMessageDropped, Required: []string{"kind", "error", "offset"}},
	EventOrderSubmitted: {Event: EventOrderSubmitted, Required: []string{"client_order_id", "symbol", "side", "qty", "order_id", "attempts"}},
	EventSubmitFailed:   {Event: EventSubmitFailed, Required: []string{"client_order_id", "symbol", "error", "class", "attempts"}},
	EventOrderRejected:  {Event: EventOrderRejected, Required: []string{"client_order_id", "symbol", "reason"}},
	EventOrderCanceled:  {Event: EventOrderCanceled, Required: []string{"order_id"}},
	EventCancelFailed:   {Event: EventCancelFailed, Required: []string{"order_id", "error"}},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateEvent 检查日志字段是否包含 schema 中要求的 key；未登记的事件不校验。
func ValidateEvent(event string, fields map[string]any) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}

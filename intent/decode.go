package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrInvalidText    = errors.New("payload is not valid utf-8 text")
	ErrSchemaMismatch = errors.New("payload does not match any known schema")
)

// DecodeError 描述一条无法解码的消息。Kind 为上面三个哨兵错误之一，可用 errors.Is 判断。
type DecodeError struct {
	Kind   error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// Label 返回用于日志/指标的短名称。
func (e *DecodeError) Label() string {
	switch e.Kind {
	case ErrEmptyPayload:
		return "empty"
	case ErrInvalidText:
		return "invalid_text"
	default:
		return "schema_mismatch"
	}
}

func mismatch(format string, args ...any) *DecodeError {
	return &DecodeError{Kind: ErrSchemaMismatch, Detail: fmt.Sprintf(format, args...)}
}

// Decoder turns raw payloads into Messages.
//
// Shapes are tried in a fixed order: the action-discriminated envelope first,
// then, only when AcceptLegacy is set and the payload carries no "action" key,
// the bare intent object older producers published.
type Decoder struct {
	AcceptLegacy bool
}

// Decode decodes with the envelope-only decoder.
func Decode(payload []byte) (Message, error) {
	return Decoder{}.Decode(payload)
}

type envelope struct {
	Action *string          `json:"action"`
	Intent *json.RawMessage `json:"intent"`
	ID     *string          `json:"id"`
}

type rawIntent struct {
	Ticker      *string             `json:"ticker"`
	Qty         *int64              `json:"qty"`
	OrderType   *string             `json:"order_type"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	TimeInForce *string             `json:"time_in_force"`
	ID          *string             `json:"id"`
}

// Decode never panics; every failure is a *DecodeError.
func (d Decoder) Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Kind: ErrEmptyPayload}
	}
	if !utf8.Valid(payload) {
		return nil, &DecodeError{Kind: ErrInvalidText}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, mismatch("%v", err)
	}
	if err := exactKeys(payload, envelopeKeys); err != nil {
		return nil, err
	}
	if env.Action == nil {
		if d.AcceptLegacy {
			return decodeLegacy(payload)
		}
		return nil, mismatch("missing action")
	}

	switch *env.Action {
	case "new":
		if env.Intent == nil {
			return nil, mismatch("new: missing intent")
		}
		ti, err := decodeIntent(*env.Intent)
		if err != nil {
			return nil, err
		}
		return New{Intent: ti}, nil
	case "cancel":
		if env.ID == nil {
			return nil, mismatch("cancel: missing id")
		}
		id, err := uuid.Parse(*env.ID)
		if err != nil {
			return nil, mismatch("cancel: id: %v", err)
		}
		return Cancel{ID: id}, nil
	default:
		return nil, mismatch("unknown action %q", *env.Action)
	}
}

var (
	envelopeKeys = []string{"action", "intent", "id"}
	intentKeys   = []string{"ticker", "qty", "order_type", "limit_price", "stop_price", "time_in_force", "id"}
)

// exactKeys 拒绝只在大小写上与字段名匹配的 key；encoding/json 默认忽略大小写。
func exactKeys(raw []byte, known []string) *DecodeError {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return mismatch("%v", err)
	}
	for k := range obj {
		for _, want := range known {
			if k != want && strings.EqualFold(k, want) {
				return mismatch("key %q must be spelled %q", k, want)
			}
		}
	}
	return nil
}

func decodeLegacy(payload []byte) (Message, error) {
	ti, err := decodeIntent(payload)
	if err != nil {
		return nil, err
	}
	return New{Intent: ti}, nil
}

func decodeIntent(raw []byte) (TradeIntent, error) {
	var ri rawIntent
	if err := json.Unmarshal(raw, &ri); err != nil {
		return TradeIntent{}, mismatch("intent: %v", err)
	}
	if err := exactKeys(raw, intentKeys); err != nil {
		return TradeIntent{}, err
	}
	if ri.Ticker == nil || strings.TrimSpace(*ri.Ticker) == "" {
		return TradeIntent{}, mismatch("intent: missing ticker")
	}
	if ri.Qty == nil {
		return TradeIntent{}, mismatch("intent: missing qty")
	}
	if *ri.Qty == 0 {
		return TradeIntent{}, mismatch("intent: qty must be non-zero")
	}
	if ri.TimeInForce == nil {
		return TradeIntent{}, mismatch("intent: missing time_in_force")
	}
	tif, ok := ParseTimeInForce(*ri.TimeInForce)
	if !ok {
		return TradeIntent{}, mismatch("intent: unknown time_in_force %q", *ri.TimeInForce)
	}
	if ri.ID == nil {
		return TradeIntent{}, mismatch("intent: missing id")
	}
	id, err := uuid.Parse(*ri.ID)
	if err != nil {
		return TradeIntent{}, mismatch("intent: id: %v", err)
	}
	if ri.OrderType == nil {
		return TradeIntent{}, mismatch("intent: missing order_type")
	}
	ot, err := decodeOrderType(*ri.OrderType, ri.LimitPrice, ri.StopPrice)
	if err != nil {
		return TradeIntent{}, err
	}
	return TradeIntent{
		Ticker:      *ri.Ticker,
		Qty:         *ri.Qty,
		OrderType:   ot,
		TimeInForce: tif,
		ID:          id,
	}, nil
}

func decodeOrderType(kind string, limit, stop decimal.NullDecimal) (OrderType, error) {
	switch kind {
	case "market":
		return Market{}, nil
	case "limit":
		p, err := requirePrice("limit_price", limit)
		if err != nil {
			return nil, err
		}
		return Limit{LimitPrice: p}, nil
	case "stop":
		p, err := requirePrice("stop_price", stop)
		if err != nil {
			return nil, err
		}
		return Stop{StopPrice: p}, nil
	case "stop_limit":
		sp, err := requirePrice("stop_price", stop)
		if err != nil {
			return nil, err
		}
		lp, err := requirePrice("limit_price", limit)
		if err != nil {
			return nil, err
		}
		return StopLimit{StopPrice: sp, LimitPrice: lp}, nil
	default:
		return nil, mismatch("intent: unknown order_type %q", kind)
	}
}

func requirePrice(field string, p decimal.NullDecimal) (decimal.Decimal, error) {
	if !p.Valid {
		return decimal.Decimal{}, mismatch("intent: missing %s", field)
	}
	if !p.Decimal.IsPositive() {
		return decimal.Decimal{}, mismatch("intent: %s must be > 0", field)
	}
	return p.Decimal, nil
}

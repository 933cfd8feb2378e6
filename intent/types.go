package intent

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Message 是总线上一条交易指令的解码结果：New 或 Cancel。
type Message interface {
	isMessage()
}

// New 提交一笔新的交易意图。
type New struct {
	Intent TradeIntent
}

// Cancel 撤销 broker 侧的订单。
type Cancel struct {
	ID uuid.UUID
}

func (New) isMessage()    {}
func (Cancel) isMessage() {}

// TradeIntent 与具体券商无关的下单意图。Qty 的符号表示方向，绝对值为股数，且不为 0。
type TradeIntent struct {
	Ticker      string
	Qty         int64
	OrderType   OrderType
	TimeInForce TimeInForce
	ID          uuid.UUID // 同时作为幂等键
}

// IsBuy reports whether the intent buys (positive qty).
func (t TradeIntent) IsBuy() bool { return t.Qty > 0 }

// OrderType 是封闭的订单类型集合：Market / Limit / Stop / StopLimit。
type OrderType interface {
	isOrderType()
}

type Market struct{}

type Limit struct {
	LimitPrice decimal.Decimal
}

type Stop struct {
	StopPrice decimal.Decimal
}

type StopLimit struct {
	StopPrice  decimal.Decimal
	LimitPrice decimal.Decimal
}

func (Market) isOrderType()    {}
func (Limit) isOrderType()     {}
func (Stop) isOrderType()      {}
func (StopLimit) isOrderType() {}

// TimeInForce 订单有效期。
type TimeInForce int

const (
	GoodTilCanceled TimeInForce = iota
	Day
	ImmediateOrCancel
	FillOrKill
	Open
	Close
)

var tifCodes = map[string]TimeInForce{
	"gtc": GoodTilCanceled,
	"day": Day,
	"ioc": ImmediateOrCancel,
	"fok": FillOrKill,
	"opg": Open,
	"cls": Close,
}

// String 返回报文中使用的短代码。
func (t TimeInForce) String() string {
	switch t {
	case GoodTilCanceled:
		return "gtc"
	case Day:
		return "day"
	case ImmediateOrCancel:
		return "ioc"
	case FillOrKill:
		return "fok"
	case Open:
		return "opg"
	case Close:
		return "cls"
	default:
		return "unknown"
	}
}

// ParseTimeInForce maps a wire code ("gtc", "day", ...) to a TimeInForce.
func ParseTimeInForce(code string) (TimeInForce, bool) {
	t, ok := tifCodes[code]
	return t, ok
}

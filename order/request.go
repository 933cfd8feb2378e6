package order

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Side 买卖方向（broker 枚举）。
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type 订单类型（broker 枚举），与 intent.OrderType 结构一一对应。
type Type string

const (
	TypeMarket    Type = "market"
	TypeLimit     Type = "limit"
	TypeStop      Type = "stop"
	TypeStopLimit Type = "stop_limit"
)

// TimeInForce 是 broker 侧的有效期枚举。
type TimeInForce string

const (
	GoodTilCancelled  TimeInForce = "gtc"
	Day               TimeInForce = "day"
	ImmediateOrCancel TimeInForce = "ioc"
	FillOrKill        TimeInForce = "fok"
	Open              TimeInForce = "opg"
	Close             TimeInForce = "cls"
)

// Request 是按 broker schema 组装好的下单请求。
// LimitPrice 仅在 limit/stop_limit 时有值，StopPrice 仅在 stop/stop_limit 时有值。
type Request struct {
	Symbol        string
	Qty           uint64
	Side          Side
	Type          Type
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type wireRequest struct {
	Symbol        string      `json:"symbol"`
	Qty           string      `json:"qty"`
	Side          Side        `json:"side"`
	Type          Type        `json:"type"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	LimitPrice    string      `json:"limit_price,omitempty"`
	StopPrice     string      `json:"stop_price,omitempty"`
	ClientOrderID string      `json:"client_order_id"`
}

// MarshalJSON 输出 POST /v2/orders 的请求体：qty 与价格均为字符串，价格固定两位小数。
func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{
		Symbol:        r.Symbol,
		Qty:           strconv.FormatUint(r.Qty, 10),
		Side:          r.Side,
		Type:          r.Type,
		TimeInForce:   r.TimeInForce,
		ClientOrderID: r.ClientOrderID,
	}
	if r.LimitPrice != nil {
		w.LimitPrice = r.LimitPrice.StringFixed(2)
	}
	if r.StopPrice != nil {
		w.StopPrice = r.StopPrice.StringFixed(2)
	}
	return json.Marshal(w)
}

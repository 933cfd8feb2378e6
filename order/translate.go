package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trader-go/intent"
)

var tifTable = map[intent.TimeInForce]TimeInForce{
	intent.GoodTilCanceled:   GoodTilCancelled,
	intent.Day:               Day,
	intent.ImmediateOrCancel: ImmediateOrCancel,
	intent.FillOrKill:        FillOrKill,
	intent.Open:              Open,
	intent.Close:             Close,
}

// Translate 将（已归一化的）交易意图映射为 broker 下单请求。
// 对合法的 TradeIntent 不会失败；遇到未映射的枚举值属于编程错误，直接 panic。
func Translate(t intent.TradeIntent) Request {
	req := Request{
		Symbol:        t.Ticker,
		Qty:           magnitude(t.Qty),
		Side:          Sell,
		TimeInForce:   mapTimeInForce(t.TimeInForce),
		ClientOrderID: t.ID.String(),
	}
	if t.Qty > 0 {
		req.Side = Buy
	}

	switch ot := t.OrderType.(type) {
	case intent.Market:
		req.Type = TypeMarket
	case intent.Limit:
		req.Type = TypeLimit
		req.LimitPrice = ptr(ot.LimitPrice)
	case intent.Stop:
		req.Type = TypeStop
		req.StopPrice = ptr(ot.StopPrice)
	case intent.StopLimit:
		req.Type = TypeStopLimit
		req.StopPrice = ptr(ot.StopPrice)
		req.LimitPrice = ptr(ot.LimitPrice)
	default:
		panic(fmt.Sprintf("order: unmapped order type %T", t.OrderType))
	}
	return req
}

func mapTimeInForce(tif intent.TimeInForce) TimeInForce {
	out, ok := tifTable[tif]
	if !ok {
		panic(fmt.Sprintf("order: unmapped time in force %d", tif))
	}
	return out
}

// magnitude 对 math.MinInt64 也能正确取绝对值。
func magnitude(q int64) uint64 {
	if q < 0 {
		return uint64(^q) + 1
	}
	return uint64(q)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

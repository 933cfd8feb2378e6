package intent

import "github.com/shopspring/decimal"

// PricePlaces 归一化后价格保留的小数位数。
const PricePlaces int32 = 2

// Normalize 对非市价单的价格做按方向的保守取整（保留 2 位小数）：
//
//	买入 limit_price  向零截断   不高于预期价格买入
//	买入 stop_price   远离零取整 避免过早触发止损
//	卖出 limit_price  远离零取整 不低于预期价格卖出
//	卖出 stop_price   向零截断   避免过早触发止损
//
// StopLimit 的两个字段分别独立处理；Market 原样返回。
func Normalize(t TradeIntent) TradeIntent {
	buy := t.IsBuy()
	switch ot := t.OrderType.(type) {
	case Limit:
		t.OrderType = Limit{LimitPrice: roundLimit(ot.LimitPrice, buy)}
	case Stop:
		t.OrderType = Stop{StopPrice: roundStop(ot.StopPrice, buy)}
	case StopLimit:
		t.OrderType = StopLimit{
			StopPrice:  roundStop(ot.StopPrice, buy),
			LimitPrice: roundLimit(ot.LimitPrice, buy),
		}
	}
	return t
}

// HasZeroPrice reports whether any price of a non-market order is zero,
// e.g. a sub-cent buy limit truncated by Normalize.
func HasZeroPrice(t TradeIntent) bool {
	switch ot := t.OrderType.(type) {
	case Limit:
		return ot.LimitPrice.IsZero()
	case Stop:
		return ot.StopPrice.IsZero()
	case StopLimit:
		return ot.StopPrice.IsZero() || ot.LimitPrice.IsZero()
	}
	return false
}

func roundLimit(p decimal.Decimal, buy bool) decimal.Decimal {
	if buy {
		return p.RoundDown(PricePlaces)
	}
	return p.RoundUp(PricePlaces)
}

func roundStop(p decimal.Decimal, buy bool) decimal.Decimal {
	if buy {
		return p.RoundUp(PricePlaces)
	}
	return p.RoundDown(PricePlaces)
}

package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"trader-go/order"
)

// DryRunBroker 不发起网络调用，直接返回一个模拟的 accepted 订单；用于 -dryRun。
type DryRunBroker struct {
	Now func() time.Time
}

func (b DryRunBroker) SubmitOrder(_ context.Context, req order.Request) (order.Order, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	o := order.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           strconv.FormatUint(req.Qty, 10),
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   string(req.TimeInForce),
		Status:        order.StatusAccepted,
		SubmittedAt:   now().UTC(),
	}
	if req.LimitPrice != nil {
		o.LimitPrice = req.LimitPrice.StringFixed(2)
	}
	if req.StopPrice != nil {
		o.StopPrice = req.StopPrice.StringFixed(2)
	}
	return o, nil
}

func (DryRunBroker) CancelOrder(context.Context, uuid.UUID) error { return nil }

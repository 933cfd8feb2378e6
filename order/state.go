package order

import "time"

// Status is the broker-reported order lifecycle state.
type Status string

const (
	StatusNew             Status = "new"
	StatusAccepted        Status = "accepted"
	StatusPendingNew      Status = "pending_new"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCanceled        Status = "canceled"
	StatusExpired         Status = "expired"
	StatusRejected        Status = "rejected"
)

// Order holds the broker's view of an accepted order.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Qty           string    `json:"qty"`
	Side          Side      `json:"side"`
	Type          Type      `json:"type"`
	TimeInForce   string    `json:"time_in_force"`
	LimitPrice    string    `json:"limit_price,omitempty"`
	StopPrice     string    `json:"stop_price,omitempty"`
	Status        Status    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

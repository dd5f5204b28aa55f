package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment records one monetary transaction attempt tied to an order.
// An order may accumulate several pending or failed payments across
// retries, but at most one ever reaches paid.
type Payment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	BuyerID       string        `json:"buyer_id"`
	Amount        int64         `json:"amount"`
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

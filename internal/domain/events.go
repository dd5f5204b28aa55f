package domain

import "time"

const (
	EventOrderCreated   = "order_created"
	EventOrderPaid      = "order_paid"
	EventOrderCancelled = "order_cancelled"
)

// OrderEvent is published on the order.events topic for every lifecycle
// transition. The email worker consumes it to notify the buyer.
type OrderEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	Total     int64     `json:"total"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the payload pushed to a connected buyer over the
// real-time channel. Delivery is best effort.
type Notification struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

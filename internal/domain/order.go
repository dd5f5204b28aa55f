package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusPaid         OrderStatus = "paid"
	OrderStatusShipping     OrderStatus = "shipping"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusFailedToShip OrderStatus = "failed to ship"
	OrderStatusRejected     OrderStatus = "rejected"
)

type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Status    string `json:"status,omitempty"`
}

// Order is a buyer's purchase request. Total is in minor currency units.
type Order struct {
	ID                 string      `json:"id"`
	BuyerID            string      `json:"buyer_id"`
	AddressID          string      `json:"address_id"`
	Items              []OrderItem `json:"items,omitempty"`
	Total              int64       `json:"total"`
	Status             OrderStatus `json:"status"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
	PaymentDueDate     time.Time   `json:"payment_due_date"`
	CreatedAt          time.Time   `json:"created_at"`
}

package domain

import "time"

// Product is a catalog entry. Price is in minor currency units.
type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Category    string    `json:"category,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

package domain

import "time"

// Coupon grants a percentage discount. MaxUsage of zero means unlimited.
type Coupon struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxUsage        int       `json:"max_usage,omitempty"`
	UsageCount      int       `json:"usage_count"`
	ProductID       string    `json:"product_id,omitempty"`
}

package domain

import "time"

const RoleAdmin = "admin"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

package cart

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"marketplace/internal/domain"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// Get returns the user's cart, creating an empty one on first use.
func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID, Items: []domain.CartItem{}}

	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM carts WHERE user_id = $1
	`, userID).Scan(&cart.ID)
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, err
		}
		cart.ID = uuid.New().String()
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO carts (id, user_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, cart.ID, userID); err != nil {
			return nil, err
		}
		// A concurrent request may have created the row first.
		if err := r.db.QueryRowContext(ctx, `
			SELECT id FROM carts WHERE user_id = $1
		`, userID).Scan(&cart.ID); err != nil {
			return nil, err
		}
		return cart, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY product_id
	`, cart.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}

// AddItem merges quantity into an existing line or inserts a new one.
func (r *CartRepository) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	cart, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + $3
	`, cart.ID, productID, quantity)

	return err
}

// SetQuantity replaces a line's quantity. Returns false when the product is
// not in the cart.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, productID string, quantity int) (bool, error) {
	cart, err := r.Get(ctx, userID)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND product_id = $2
	`, cart.ID, productID, quantity)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *CartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	cart, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2
	`, cart.ID, productID)

	return err
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	cart, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID)

	return err
}

package inventory

import (
	"context"
	"database/sql"
	"errors"

	"marketplace/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type InventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) ListAll(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM inventory
		ORDER BY product_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.StockLevel
	for rows.Next() {
		var stock domain.StockLevel
		if err := rows.Scan(&stock.ProductID, &stock.Quantity); err != nil {
			return nil, err
		}
		items = append(items, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	stock := &domain.StockLevel{}

	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, quantity
		FROM inventory
		WHERE product_id = $1
	`, productID).Scan(&stock.ProductID, &stock.Quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return stock, nil
}

// Reserve decrements stock only when enough is available, so quantity can
// never go negative.
func (r *InventoryRepository) Reserve(ctx context.Context, productID string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2
		WHERE product_id = $1 AND quantity >= $2
	`, productID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

// Restock adds quantity back, the only inventory mutation the cancellation
// compensation performs.
func (r *InventoryRepository) Restock(ctx context.Context, productID string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity + $2
		WHERE product_id = $1
	`, productID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errors.New("no inventory record for product " + productID)
	}

	return nil
}

package orders

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"marketplace/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items in one transaction. The order id
// and item ids are assigned here.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, address_id, total, status, payment_due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, order.ID, order.BuyerID, order.AddressID, order.Total, order.Status, order.PaymentDueDate, order.CreatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		order.Items[i].ID = uuid.New().String()
		order.Items[i].OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.Items[i].ID, order.ID, order.Items[i].ProductID, order.Items[i].Quantity, order.Items[i].UnitPrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var reason sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, address_id, total, status, cancellation_reason, payment_due_date, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.BuyerID, &order.AddressID, &order.Total, &order.Status,
		&reason, &order.PaymentDueDate, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	order.CancellationReason = reason.String

	items, err := r.ItemsByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buyer_id, address_id, total, status, cancellation_reason, payment_due_date, created_at
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		var reason sql.NullString
		if err := rows.Scan(&order.ID, &order.BuyerID, &order.AddressID, &order.Total, &order.Status,
			&reason, &order.PaymentDueDate, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.CancellationReason = reason.String
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// CancelIfPending transitions the order to cancelled only if it is still
// pending. The conditional write is what makes concurrent cancel attempts
// (manual cancel racing the sweep) safe: at most one writer wins.
func (r *OrderRepository) CancelIfPending(ctx context.Context, id, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, cancellation_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.OrderStatusCancelled, reason, domain.OrderStatusPending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// MarkPaidIfPending transitions pending -> paid, once.
func (r *OrderRepository) MarkPaidIfPending(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.OrderStatusPaid, domain.OrderStatusPending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ExpiredPending returns pending orders whose payment window has lapsed.
// The predicate matches on payment_due_date, the same field the on-demand
// expiry check uses, so both paths agree on when an order expires.
func (r *OrderRepository) ExpiredPending(ctx context.Context, asOf time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buyer_id, address_id, total, status, payment_due_date, created_at
		FROM orders
		WHERE status = $1 AND payment_due_date < $2
	`, domain.OrderStatusPending, asOf)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.BuyerID, &order.AddressID, &order.Total, &order.Status,
			&order.PaymentDueDate, &order.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) ItemsByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

package payments

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"marketplace/internal/domain"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	payment.ID = uuid.New().String()
	payment.Status = domain.PaymentStatusPending
	payment.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, buyer_id, amount, method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, payment.ID, payment.OrderID, payment.BuyerID, payment.Amount, payment.Method, payment.Status, payment.CreatedAt)

	return err
}

func (r *PaymentRepository) GetByOrder(ctx context.Context, orderID, buyerID string) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var failureReason, transactionID sql.NullString
	var paidAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, amount, method, status, failure_reason, transaction_id, paid_at, created_at
		FROM payments
		WHERE order_id = $1 AND buyer_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID, buyerID).Scan(&payment.ID, &payment.OrderID, &payment.BuyerID, &payment.Amount,
		&payment.Method, &payment.Status, &failureReason, &transactionID, &paidAt, &payment.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	payment.FailureReason = failureReason.String
	payment.TransactionID = transactionID.String
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}

	return payment, nil
}

// FailPending bulk-invalidates every pending payment of an order. Paid and
// already-failed payments are never touched.
func (r *PaymentRepository) FailPending(ctx context.Context, orderID, reason string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, failure_reason = $3
		WHERE order_id = $1 AND status = $4
	`, orderID, domain.PaymentStatusFailed, reason, domain.PaymentStatusPending)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// MarkPaid records a processor-reported capture against the order's pending
// payment. The conditional update guarantees at most one payment per order
// ever reaches paid.
func (r *PaymentRepository) MarkPaid(ctx context.Context, orderID, transactionID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, transaction_id = $3, paid_at = NOW()
		WHERE id = (
			SELECT id FROM payments
			WHERE order_id = $1 AND status = $4
			ORDER BY created_at DESC
			LIMIT 1
		)
	`, orderID, domain.PaymentStatusPaid, transactionID, domain.PaymentStatusPending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

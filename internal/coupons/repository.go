package coupons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketplace/internal/domain"
)

var (
	ErrNotFound   = errors.New("coupon not found")
	ErrNotStarted = errors.New("coupon is not active yet")
	ErrExpired    = errors.New("coupon has expired")
	ErrExhausted  = errors.New("coupon usage limit reached")
)

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	coupon.ID = uuid.New().String()
	coupon.Code = strings.ToUpper(coupon.Code)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, discount_percent, starts_at, ends_at, max_usage, usage_count, product_id)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NULLIF($7, ''))
	`, coupon.ID, coupon.Code, coupon.DiscountPercent, coupon.StartsAt, coupon.EndsAt,
		coupon.MaxUsage, coupon.ProductID)

	return err
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon := &domain.Coupon{}
	var productID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, discount_percent, starts_at, ends_at, max_usage, usage_count, product_id
		FROM coupons
		WHERE code = $1
	`, strings.ToUpper(code)).Scan(&coupon.ID, &coupon.Code, &coupon.DiscountPercent,
		&coupon.StartsAt, &coupon.EndsAt, &coupon.MaxUsage, &coupon.UsageCount, &productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	coupon.ProductID = productID.String

	return coupon, nil
}

func (r *CouponRepository) List(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, discount_percent, starts_at, ends_at, max_usage, usage_count, product_id
		FROM coupons
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var coupons []domain.Coupon
	for rows.Next() {
		var c domain.Coupon
		var productID sql.NullString
		if err := rows.Scan(&c.ID, &c.Code, &c.DiscountPercent, &c.StartsAt, &c.EndsAt,
			&c.MaxUsage, &c.UsageCount, &productID); err != nil {
			return nil, err
		}
		c.ProductID = productID.String
		coupons = append(coupons, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return coupons, nil
}

func (r *CouponRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// Verify checks validity without consuming a use.
func (r *CouponRepository) Verify(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrNotFound
	}

	now := time.Now()
	switch {
	case now.Before(coupon.StartsAt):
		return nil, ErrNotStarted
	case now.After(coupon.EndsAt):
		return nil, ErrExpired
	case coupon.MaxUsage > 0 && coupon.UsageCount >= coupon.MaxUsage:
		return nil, ErrExhausted
	}

	return coupon, nil
}

// Redeem consumes one use of a valid coupon. The usage increment is
// conditional on the limit so concurrent redemptions cannot overshoot it.
func (r *CouponRepository) Redeem(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := r.Verify(ctx, code)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET usage_count = usage_count + 1
		WHERE id = $1 AND (max_usage = 0 OR usage_count < max_usage)
	`, coupon.ID)
	if err != nil {
		return nil, fmt.Errorf("redeem coupon: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrExhausted
	}

	coupon.UsageCount++
	return coupon, nil
}

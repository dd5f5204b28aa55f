package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"marketplace/internal/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	product.ID = uuid.New().String()
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = product.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, category, title, description, price, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, product.ID, product.SellerID, product.Category, product.Title, product.Description,
		product.Price, product.ImageURL, product.CreatedAt)
	if err != nil {
		return err
	}

	// A new product starts with an empty inventory row so restocks and
	// reservations always have a record to update.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity) VALUES ($1, 0)
	`, product.ID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, category, title, description, price, image_url, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SellerID, &product.Category, &product.Title,
		&product.Description, &product.Price, &product.ImageURL, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	return r.list(ctx, `
		SELECT id, seller_id, category, title, description, price, image_url, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
	`)
}

func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	return r.list(ctx, `
		SELECT id, seller_id, category, title, description, price, image_url, created_at, updated_at
		FROM products
		WHERE seller_id = $1
		ORDER BY created_at DESC
	`, sellerID)
}

func (r *ProductRepository) list(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.Category, &p.Title, &p.Description,
			&p.Price, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *ProductRepository) Update(ctx context.Context, product *domain.Product) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET category = $2, title = $3, description = $4, price = $5, image_url = $6, updated_at = NOW()
		WHERE id = $1
	`, product.ID, product.Category, product.Title, product.Description, product.Price, product.ImageURL)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// PricesByIDs returns current prices for the given products; missing
// products are simply absent from the map.
func (r *ProductRepository) PricesByIDs(ctx context.Context, ids []string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, price
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	prices := make(map[string]int64, len(ids))
	for rows.Next() {
		var id string
		var price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		prices[id] = price
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return prices, nil
}

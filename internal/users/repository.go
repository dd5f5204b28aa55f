package users

import (
	"context"
	"database/sql"

	"marketplace/internal/domain"
)

// UserRepository is read-only: account management lives in the identity
// service. This side only needs emails and roles.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// UserPostgres implements the user directory for PostgreSQL
type UserPostgres struct {
	pool *pgxpool.Pool
}

// NewUserPostgres creates a new PostgreSQL user repository
func NewUserPostgres(pool *pgxpool.Pool) *UserPostgres {
	return &UserPostgres{pool: pool}
}

// GetByID retrieves a user by ID
func (r *UserPostgres) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `
		SELECT id, display_name, avatar_url, email
		FROM chat_users
		WHERE id = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// FindByEmail retrieves a user by exact email match
func (r *UserPostgres) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT id, display_name, avatar_url, email
		FROM chat_users
		WHERE email = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// Upsert inserts or updates a user profile
func (r *UserPostgres) Upsert(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO chat_users (id, display_name, avatar_url, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query, user.ID, user.DisplayName, user.AvatarURL, user.Email)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (r *UserPostgres) scanUser(row pgx.Row) (*entity.User, error) {
	var u entity.User
	err := row.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

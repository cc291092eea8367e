package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists token grants in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateGrant(ctx context.Context, g Grant) error {
	const q = `
		INSERT INTO realtime_tokens (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, q, g.TokenHash, g.UserID, g.ExpiresAt, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token grant: %w", err)
	}
	return nil
}

func (r *Repository) GetGrant(ctx context.Context, tokenHash string) (Grant, error) {
	const q = `
		SELECT token_hash, user_id, expires_at, created_at
		FROM realtime_tokens
		WHERE token_hash = $1
	`
	var g Grant
	err := r.pool.QueryRow(ctx, q, tokenHash).Scan(&g.TokenHash, &g.UserID, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, ErrInvalidToken
		}
		return Grant{}, fmt.Errorf("get token grant: %w", err)
	}
	return g, nil
}

func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM realtime_tokens WHERE expires_at <= $1`
	tag, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

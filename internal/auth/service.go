package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patentify/sfide/internal/realtime"
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

const DefaultTokenTTL = time.Hour

// Grant is one issued realtime token, stored by hash only.
type Grant struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// GrantStore persists issued tokens.
type GrantStore interface {
	CreateGrant(ctx context.Context, g Grant) error
	GetGrant(ctx context.Context, tokenHash string) (Grant, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service issues and verifies realtime capability tokens. It satisfies
// realtime.TokenSource so in-process clients can dial with fresh tokens.
type Service struct {
	store GrantStore
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store GrantStore, ttl time.Duration, now func() time.Time) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, ttl: ttl, now: now}
}

// RealtimeToken mints a token for userID and stores its hash.
func (s *Service) RealtimeToken(ctx context.Context, userID string) (realtime.Token, error) {
	value, err := NewTokenValue()
	if err != nil {
		return realtime.Token{}, err
	}
	now := s.now()
	grant := Grant{
		TokenHash: HashToken(value),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return realtime.Token{}, fmt.Errorf("store token grant: %w", err)
	}
	return realtime.Token{Value: value, ExpiresAt: grant.ExpiresAt}, nil
}

// Authenticate resolves a presented token to its user.
func (s *Service) Authenticate(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", ErrInvalidToken
	}
	grant, err := s.store.GetGrant(ctx, HashToken(value))
	if err != nil {
		return "", ErrInvalidToken
	}
	if !s.now().Before(grant.ExpiresAt) {
		return "", ErrInvalidToken
	}
	return grant.UserID, nil
}

// Sweep deletes expired grants. Called periodically by the server.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubGrants struct {
	create        func(ctx context.Context, g Grant) error
	get           func(ctx context.Context, tokenHash string) (Grant, error)
	deleteExpired func(ctx context.Context, now time.Time) (int64, error)
}

func (s *stubGrants) CreateGrant(ctx context.Context, g Grant) error {
	return s.create(ctx, g)
}

func (s *stubGrants) GetGrant(ctx context.Context, tokenHash string) (Grant, error) {
	return s.get(ctx, tokenHash)
}

func (s *stubGrants) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, now)
}

func TestRealtimeTokenStoresHashOnly(t *testing.T) {
	var stored Grant
	store := &stubGrants{create: func(_ context.Context, g Grant) error {
		stored = g
		return nil
	}}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, 30*time.Minute, func() time.Time { return base })

	token, err := svc.RealtimeToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("RealtimeToken: %v", err)
	}
	if token.Value == "" {
		t.Fatal("empty token value")
	}
	if stored.TokenHash == token.Value {
		t.Fatal("store received the raw token instead of its hash")
	}
	if stored.TokenHash != HashToken(token.Value) {
		t.Fatal("stored hash does not match the issued token")
	}
	if stored.UserID != "alice" {
		t.Fatalf("stored user = %q", stored.UserID)
	}
	want := base.Add(30 * time.Minute)
	if !token.ExpiresAt.Equal(want) || !stored.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v / %v, want %v", token.ExpiresAt, stored.ExpiresAt, want)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	grants := map[string]Grant{}
	store := &stubGrants{
		create: func(_ context.Context, g Grant) error {
			grants[g.TokenHash] = g
			return nil
		},
		get: func(_ context.Context, hash string) (Grant, error) {
			g, ok := grants[hash]
			if !ok {
				return Grant{}, ErrInvalidToken
			}
			return g, nil
		},
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, time.Hour, func() time.Time { return now })

	token, err := svc.RealtimeToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("RealtimeToken: %v", err)
	}

	userID, err := svc.Authenticate(context.Background(), token.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("userID = %q, want alice", userID)
	}

	if _, err := svc.Authenticate(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token err = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Authenticate(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err = %v, want ErrInvalidToken", err)
	}

	// Past the TTL the same token no longer authenticates.
	now = now.Add(time.Hour)
	if _, err := svc.Authenticate(context.Background(), token.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	var stored Grant
	store := &stubGrants{create: func(_ context.Context, g Grant) error {
		stored = g
		return nil
	}}
	svc := NewService(store, 0, nil)

	before := time.Now()
	if _, err := svc.RealtimeToken(context.Background(), "alice"); err != nil {
		t.Fatalf("RealtimeToken: %v", err)
	}
	ttl := stored.ExpiresAt.Sub(stored.CreatedAt)
	if ttl != DefaultTokenTTL {
		t.Fatalf("ttl = %v, want %v", ttl, DefaultTokenTTL)
	}
	if stored.CreatedAt.Before(before.Add(-time.Second)) {
		t.Fatalf("created at %v is not current time", stored.CreatedAt)
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var sweptAt time.Time
	store := &stubGrants{deleteExpired: func(_ context.Context, at time.Time) (int64, error) {
		sweptAt = at
		return 7, nil
	}}
	svc := NewService(store, time.Hour, func() time.Time { return now })

	n, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 7 {
		t.Fatalf("n = %d, want 7", n)
	}
	if !sweptAt.Equal(now) {
		t.Fatalf("swept at %v, want %v", sweptAt, now)
	}
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrShuttingDown is returned by Acquire when a teardown started while an
// auth round-trip was still in flight.
var ErrShuttingDown = errors.New("realtime: connection manager shutting down")

// Token is a server-issued, time-limited capability token. The raw user
// credential never reaches the messaging layer.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource mints realtime tokens for a user.
type TokenSource interface {
	RealtimeToken(ctx context.Context, userID string) (Token, error)
}

// Dialer opens a connection authenticated with the given token.
type Dialer func(ctx context.Context, clientID string, token Token) (Conn, error)

// Manager owns the process-wide realtime connection: lazily dialed on first
// authenticated use, torn down on sign-out. Dependents receive the Conn from
// Acquire instead of reaching for a global.
type Manager struct {
	tokens TokenSource
	dial   Dialer

	mu      sync.Mutex
	conn    Conn
	closing bool
}

func NewManager(tokens TokenSource, dial Dialer) *Manager {
	return &Manager{tokens: tokens, dial: dial}
}

// Acquire returns the shared connection, dialing it first if needed.
// If Close runs while the token fetch is in flight, Acquire fails fast with
// ErrShuttingDown instead of resurrecting a torn-down connection.
func (m *Manager) Acquire(ctx context.Context, userID string) (Conn, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if m.conn != nil && m.conn.State() != StateClosed {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	token, err := m.tokens.RealtimeToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("issue realtime token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrShuttingDown
	}
	if m.conn != nil && m.conn.State() != StateClosed {
		return m.conn, nil
	}

	conn, err := m.dial(ctx, userID, token)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	m.conn = conn

	log.Info().Str("client_id", userID).Msg("realtime connection established")
	return conn, nil
}

// Close tears down the shared connection. It is idempotent and safe to call
// with no connection open. A later Acquire may dial again.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	m.mu.Lock()
	m.closing = false
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close realtime connection: %w", err)
	}
	log.Info().Msg("realtime connection closed")
	return nil
}

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves a presented realtime token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// ConnFactory opens the backing realtime connection for one websocket client.
type ConnFactory func(ctx context.Context, userID string) (realtime.Conn, error)

// Config holds websocket tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Manager upgrades websocket clients and bridges each one onto its own
// realtime connection. Channel access is checked per subscribe and publish
// against the user's capabilities.
type Manager struct {
	auth     Authenticator
	dial     ConnFactory
	allowed  func(userID, channel string) bool
	upgrader websocket.Upgrader
	config   Config

	mu          sync.RWMutex
	connections map[*Connection]bool
}

func NewManager(auth Authenticator, dial ConnFactory, allowed func(userID, channel string) bool, config Config) *Manager {
	return &Manager{
		auth:    auth,
		dial:    dial,
		allowed: allowed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		connections: make(map[*Connection]bool),
	}
}

// ServeHTTP handles GET /realtime?token=... upgrade requests.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := m.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	rt, err := m.dial(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("realtime dial failed")
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.Close()
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		ws:          ws,
		rt:          rt,
		manager:     m,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		stops:       make(map[string]func()),
		connectedAt: time.Now(),
	}
	m.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("websocket connection established")
}

func (m *Manager) register(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn] = true
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.connections[conn]; !exists {
		return
	}
	delete(m.connections, conn)
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("websocket connection closed")
}

// Stats reports active connection counts per user.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for conn := range m.connections {
		counts[conn.UserID]++
	}
	return counts
}

// Shutdown closes every active connection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

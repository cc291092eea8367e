package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/rs/zerolog/log"
)

// DefaultIdleThreshold is how long without an activity signal before the
// user stops being advertised as an available opponent.
const DefaultIdleThreshold = 5 * time.Minute

// Config holds presence manager settings.
type Config struct {
	IdleThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{IdleThreshold: DefaultIdleThreshold}
}

// Manager keeps one user's membership in the lobby channel consistent with
// actual activity: entered while active, left after the idle threshold,
// re-entered on renewed activity.
//
// All presence calls swallow transport errors. A failed enter resets the
// entered flag so a later signal retries; a failed leave is best-effort
// because the connection teardown is the authoritative cleanup.
type Manager struct {
	conn  realtime.Conn
	lobby realtime.Channel
	clock clockwork.Clock
	cfg   Config

	activityCh chan struct{}

	mu      sync.Mutex
	entered bool
}

func NewManager(conn realtime.Conn, clock clockwork.Clock, cfg Config) *Manager {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	return &Manager{
		conn:       conn,
		lobby:      conn.Channel(realtime.LobbyChannel),
		clock:      clock,
		cfg:        cfg,
		activityCh: make(chan struct{}, 1),
	}
}

// Touch records a user interaction signal (pointer move, key press, click).
// Never blocks; coalesces bursts into a single pending signal.
func (m *Manager) Touch() {
	select {
	case m.activityCh <- struct{}{}:
	default:
	}
}

// Entered reports whether the lobby currently lists this user.
func (m *Manager) Entered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

// Run drives the enter/leave loop until ctx is cancelled. On cancellation a
// best-effort leave runs before returning; errors there are ignored.
func (m *Manager) Run(ctx context.Context) {
	m.enter(ctx)

	idle := m.clock.NewTimer(m.cfg.IdleThreshold)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.leave()
			return
		case <-m.activityCh:
			m.enter(ctx)
			resetTimer(idle, m.cfg.IdleThreshold)
		case <-idle.Chan():
			m.leave()
			resetTimer(idle, m.cfg.IdleThreshold)
		}
	}
}

func (m *Manager) enter(ctx context.Context) {
	m.mu.Lock()
	if m.entered {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.conn.State() != realtime.StateConnected {
		return
	}

	if err := m.lobby.EnterPresence(ctx); err != nil {
		log.Warn().Err(err).Str("client_id", m.conn.ClientID()).Msg("lobby presence enter failed")
		return
	}

	m.mu.Lock()
	m.entered = true
	m.mu.Unlock()
	log.Debug().Str("client_id", m.conn.ClientID()).Msg("entered lobby presence")
}

func (m *Manager) leave() {
	m.mu.Lock()
	if !m.entered {
		m.mu.Unlock()
		return
	}
	m.entered = false
	m.mu.Unlock()

	if err := m.lobby.LeavePresence(context.Background()); err != nil {
		log.Warn().Err(err).Str("client_id", m.conn.ClientID()).Msg("lobby presence leave failed")
	}
	log.Debug().Str("client_id", m.conn.ClientID()).Msg("left lobby presence")
}

func resetTimer(t clockwork.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	subjectPrefix     = "rt"
	presenceGetWindow = 250 * time.Millisecond
	natsReconnectWait = 2 * time.Second
	natsMaxReconnects = -1
)

// NATSDialer returns a Dialer backed by a NATS server at url.
func NATSDialer(url string) Dialer {
	return func(ctx context.Context, clientID string, token Token) (Conn, error) {
		return DialNATS(ctx, url, clientID, token)
	}
}

// DialNATS opens a token-authenticated NATS-backed realtime connection.
func DialNATS(ctx context.Context, url, clientID string, token Token) (Conn, error) {
	c := &natsConn{
		clientID: clientID,
		channels: make(map[string]*natsChannel),
	}

	opts := []nats.Option{
		nats.Name(clientID),
		nats.Token(token.Value),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.setState(StateDisconnected)
			log.Error().Err(err).Str("client_id", clientID).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setState(StateConnected)
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.setState(StateClosed)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc
	c.state = StateConnected
	return c, nil
}

type natsConn struct {
	nc       *nats.Conn
	clientID string

	mu       sync.Mutex
	state    ConnState
	channels map[string]*natsChannel
}

func (c *natsConn) ClientID() string { return c.clientID }

func (c *natsConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *natsConn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *natsConn) Channel(name string) Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		return ch
	}
	ch := &natsChannel{conn: c, name: name}
	c.channels[name] = ch
	return ch
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	channels := make([]*natsChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	// Best-effort presence leave before dropping the transport; the
	// connection close is the authoritative cleanup.
	for _, ch := range channels {
		_ = ch.LeavePresence(context.Background())
	}

	c.setState(StateClosed)
	c.nc.Close()
	return nil
}

type natsChannel struct {
	conn *natsConn
	name string

	mu      sync.Mutex
	entered bool
	pingSub *nats.Subscription
}

func (ch *natsChannel) Name() string { return ch.name }

func (ch *natsChannel) msgSubject(event string) string {
	return fmt.Sprintf("%s.%s.msg.%s", subjectPrefix, ch.name, event)
}

func (ch *natsChannel) presenceSubject(kind string) string {
	return fmt.Sprintf("%s.%s.presence.%s", subjectPrefix, ch.name, kind)
}

func (ch *natsChannel) Publish(ctx context.Context, event string, data []byte) error {
	msg := Message{
		Event:    event,
		ClientID: ch.conn.clientID,
		Data:     data,
		SentAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := ch.conn.nc.Publish(ch.msgSubject(event), raw); err != nil {
		return fmt.Errorf("publish %s on %s: %w", event, ch.name, err)
	}
	return nil
}

func (ch *natsChannel) Subscribe(event string, fn func(Message)) (func(), error) {
	sub, err := ch.conn.nc.Subscribe(ch.msgSubject(event), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Error().Err(err).Str("subject", m.Subject).Msg("malformed realtime message")
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s on %s: %w", event, ch.name, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { _ = sub.Unsubscribe() })
	}, nil
}

// EnterPresence announces this client on the channel and starts answering
// presence queries. It is a no-op when already entered.
func (ch *natsChannel) EnterPresence(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.entered {
		return nil
	}

	pingSub, err := ch.conn.nc.Subscribe(ch.presenceSubject("ping"), func(m *nats.Msg) {
		if m.Reply == "" {
			return
		}
		member, _ := json.Marshal(Member{ClientID: ch.conn.clientID})
		_ = ch.conn.nc.Publish(m.Reply, member)
	})
	if err != nil {
		return fmt.Errorf("subscribe presence ping on %s: %w", ch.name, err)
	}

	if err := ch.publishPresence(PresenceEnter); err != nil {
		_ = pingSub.Unsubscribe()
		return err
	}

	ch.pingSub = pingSub
	ch.entered = true
	return nil
}

func (ch *natsChannel) LeavePresence(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.entered {
		return nil
	}
	ch.entered = false
	if ch.pingSub != nil {
		_ = ch.pingSub.Unsubscribe()
		ch.pingSub = nil
	}
	return ch.publishPresence(PresenceLeave)
}

func (ch *natsChannel) publishPresence(action PresenceAction) error {
	ev := PresenceEvent{
		Action:   action,
		ClientID: ch.conn.clientID,
		At:       time.Now().UTC(),
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := ch.conn.nc.Publish(ch.presenceSubject(string(action)), raw); err != nil {
		return fmt.Errorf("publish presence %s on %s: %w", action, ch.name, err)
	}
	return nil
}

// GetPresence asks every entered member to identify itself and gathers the
// replies for a short window. The member set lives in the messaging layer,
// not in any client, so this is the authoritative read.
func (ch *natsChannel) GetPresence(ctx context.Context) ([]Member, error) {
	inbox := nats.NewInbox()
	replies := make(chan Member, 64)

	sub, err := ch.conn.nc.Subscribe(inbox, func(m *nats.Msg) {
		var member Member
		if err := json.Unmarshal(m.Data, &member); err != nil {
			return
		}
		select {
		case replies <- member:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe presence inbox: %w", err)
	}
	defer sub.Unsubscribe()

	if err := ch.conn.nc.PublishRequest(ch.presenceSubject("ping"), inbox, nil); err != nil {
		return nil, fmt.Errorf("publish presence query on %s: %w", ch.name, err)
	}

	window := time.NewTimer(presenceGetWindow)
	defer window.Stop()

	seen := make(map[string]bool)
	var members []Member
	for {
		select {
		case <-ctx.Done():
			return members, ctx.Err()
		case m := <-replies:
			if !seen[m.ClientID] {
				seen[m.ClientID] = true
				members = append(members, m)
			}
		case <-window.C:
			return members, nil
		}
	}
}

func (ch *natsChannel) SubscribePresence(fn func(PresenceEvent)) (func(), error) {
	handler := func(m *nats.Msg) {
		var ev PresenceEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Error().Err(err).Str("subject", m.Subject).Msg("malformed presence event")
			return
		}
		fn(ev)
	}

	enterSub, err := ch.conn.nc.Subscribe(ch.presenceSubject(string(PresenceEnter)), handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe presence enter on %s: %w", ch.name, err)
	}
	leaveSub, err := ch.conn.nc.Subscribe(ch.presenceSubject(string(PresenceLeave)), handler)
	if err != nil {
		_ = enterSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe presence leave on %s: %w", ch.name, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = enterSub.Unsubscribe()
			_ = leaveSub.Unsubscribe()
		})
	}, nil
}

package realtime

import (
	"context"
	"sync"
	"time"
)

// Hub is an in-process realtime implementation. It backs tests and local
// development with the same channel/presence semantics the NATS transport
// provides: best-effort delivery, no ordering across channels.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*hubChannel
	errs     map[string]error
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*hubChannel),
		errs:     make(map[string]error),
	}
}

// SetChannelError makes every publish and presence operation on the named
// channel fail with err. Pass nil to clear. Test hook for transport faults.
func (h *Hub) SetChannelError(channel string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.errs, channel)
		return
	}
	h.errs[channel] = err
}

func (h *Hub) channelErr(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errs[name]
}

func (h *Hub) channel(name string) *hubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[name]
	if !ok {
		ch = &hubChannel{
			hub:     h,
			name:    name,
			members: make(map[string]bool),
		}
		h.channels[name] = ch
	}
	return ch
}

// Connect returns a connection for clientID. Connections made from the same
// Hub see each other's messages and presence.
func (h *Hub) Connect(clientID string) *HubConn {
	return &HubConn{hub: h, clientID: clientID, state: StateConnected}
}

// HubConn is an in-memory Conn.
type HubConn struct {
	hub      *Hub
	clientID string

	mu    sync.Mutex
	state ConnState
}

func (c *HubConn) ClientID() string { return c.clientID }

func (c *HubConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState overrides the reported connection state. Test hook.
func (c *HubConn) SetState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *HubConn) Channel(name string) Channel {
	return &hubChannelView{conn: c, ch: c.hub.channel(name)}
}

func (c *HubConn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.hub.mu.Lock()
	channels := make([]*hubChannel, 0, len(c.hub.channels))
	for _, ch := range c.hub.channels {
		channels = append(channels, ch)
	}
	c.hub.mu.Unlock()

	for _, ch := range channels {
		ch.leave(c.clientID)
	}
	return nil
}

type hubChannel struct {
	hub  *Hub
	name string

	mu           sync.Mutex
	members      map[string]bool
	subs         []*hubSub
	presenceSubs []*hubPresenceSub
}

type hubSub struct {
	event  string
	fn     func(Message)
	closed bool
}

type hubPresenceSub struct {
	fn     func(PresenceEvent)
	closed bool
}

func (ch *hubChannel) dispatch(msg Message) {
	ch.mu.Lock()
	targets := make([]func(Message), 0, len(ch.subs))
	for _, s := range ch.subs {
		if !s.closed && s.event == msg.Event {
			targets = append(targets, s.fn)
		}
	}
	ch.mu.Unlock()
	for _, fn := range targets {
		fn(msg)
	}
}

func (ch *hubChannel) dispatchPresence(ev PresenceEvent) {
	ch.mu.Lock()
	targets := make([]func(PresenceEvent), 0, len(ch.presenceSubs))
	for _, s := range ch.presenceSubs {
		if !s.closed {
			targets = append(targets, s.fn)
		}
	}
	ch.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}

func (ch *hubChannel) enter(clientID string) {
	ch.mu.Lock()
	already := ch.members[clientID]
	ch.members[clientID] = true
	ch.mu.Unlock()
	if !already {
		ch.dispatchPresence(PresenceEvent{Action: PresenceEnter, ClientID: clientID, At: time.Now().UTC()})
	}
}

func (ch *hubChannel) leave(clientID string) {
	ch.mu.Lock()
	present := ch.members[clientID]
	delete(ch.members, clientID)
	ch.mu.Unlock()
	if present {
		ch.dispatchPresence(PresenceEvent{Action: PresenceLeave, ClientID: clientID, At: time.Now().UTC()})
	}
}

// hubChannelView binds a hubChannel to one connection so publishes carry the
// right client id.
type hubChannelView struct {
	conn *HubConn
	ch   *hubChannel
}

func (v *hubChannelView) Name() string { return v.ch.name }

func (v *hubChannelView) Publish(ctx context.Context, event string, data []byte) error {
	if err := v.ch.hub.channelErr(v.ch.name); err != nil {
		return err
	}
	v.ch.dispatch(Message{
		Event:    event,
		ClientID: v.conn.clientID,
		Data:     data,
		SentAt:   time.Now().UTC(),
	})
	return nil
}

func (v *hubChannelView) Subscribe(event string, fn func(Message)) (func(), error) {
	s := &hubSub{event: event, fn: fn}
	v.ch.mu.Lock()
	v.ch.subs = append(v.ch.subs, s)
	v.ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.ch.mu.Lock()
			s.closed = true
			v.ch.mu.Unlock()
		})
	}, nil
}

func (v *hubChannelView) EnterPresence(ctx context.Context) error {
	if err := v.ch.hub.channelErr(v.ch.name); err != nil {
		return err
	}
	v.ch.enter(v.conn.clientID)
	return nil
}

func (v *hubChannelView) LeavePresence(ctx context.Context) error {
	if err := v.ch.hub.channelErr(v.ch.name); err != nil {
		return err
	}
	v.ch.leave(v.conn.clientID)
	return nil
}

func (v *hubChannelView) GetPresence(ctx context.Context) ([]Member, error) {
	if err := v.ch.hub.channelErr(v.ch.name); err != nil {
		return nil, err
	}
	v.ch.mu.Lock()
	defer v.ch.mu.Unlock()
	members := make([]Member, 0, len(v.ch.members))
	for id := range v.ch.members {
		members = append(members, Member{ClientID: id})
	}
	return members, nil
}

func (v *hubChannelView) SubscribePresence(fn func(PresenceEvent)) (func(), error) {
	s := &hubPresenceSub{fn: fn}
	v.ch.mu.Lock()
	v.ch.presenceSubs = append(v.ch.presenceSubs, s)
	v.ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.ch.mu.Lock()
			s.closed = true
			v.ch.mu.Unlock()
		})
	}, nil
}

package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Connection is one websocket client bridged onto its realtime connection.
type Connection struct {
	ID     string
	UserID string

	ws      *websocket.Conn
	rt      realtime.Conn
	manager *Manager

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	stops map[string]func()

	connectedAt time.Time
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		for _, stop := range c.stops {
			stop()
		}
		c.stops = make(map[string]func())
		c.mu.Unlock()
		c.rt.Close()
		c.ws.Close()
		c.manager.unregister(c)
	})
}

func (c *Connection) sendFrame(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("marshal server frame")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Slow consumer, drop the connection rather than block the bridge.
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("send buffer full, closing connection")
		go c.close()
	}
}

func (c *Connection) sendError(channel, message string) {
	c.sendFrame(serverFrame{Type: FrameError, Channel: channel, Message: message})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Connection) readPump() {
	defer c.close()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		c.handleFrame(message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

func (c *Connection) handleFrame(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.sendError("", "malformed frame")
		return
	}
	if frame.Channel == "" {
		c.sendError("", "missing channel")
		return
	}
	if !c.manager.allowed(c.UserID, frame.Channel) {
		c.sendError(frame.Channel, "channel not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.manager.config.WriteTimeout)
	defer cancel()

	ch := c.rt.Channel(frame.Channel)
	switch frame.Action {
	case ActionSubscribe:
		c.subscribe(ch, frame.Channel, frame.Event)
	case ActionUnsubscribe:
		c.unsubscribe(frame.Channel, frame.Event)
	case ActionPublish:
		if err := ch.Publish(ctx, frame.Event, frame.Data); err != nil {
			c.sendError(frame.Channel, "publish failed")
		}
	case ActionPresenceEnter:
		c.enterPresence(ctx, ch, frame.Channel)
	case ActionPresenceLeave:
		if err := ch.LeavePresence(ctx); err != nil {
			c.sendError(frame.Channel, "presence leave failed")
		}
	case ActionPresenceGet:
		members, err := ch.GetPresence(ctx)
		if err != nil {
			c.sendError(frame.Channel, "presence get failed")
			return
		}
		c.sendFrame(serverFrame{Type: FrameMembers, Channel: frame.Channel, Members: members})
	default:
		c.sendError(frame.Channel, "unknown action")
	}
}

func (c *Connection) subscribe(ch realtime.Channel, channel, event string) {
	key := channel + "\x00" + event
	c.mu.Lock()
	if _, exists := c.stops[key]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	stop, err := ch.Subscribe(event, func(msg realtime.Message) {
		c.sendFrame(serverFrame{
			Type:     FrameMessage,
			Channel:  channel,
			Event:    msg.Event,
			ClientID: msg.ClientID,
			Data:     msg.Data,
			At:       msg.SentAt,
		})
	})
	if err != nil {
		c.sendError(channel, "subscribe failed")
		return
	}

	c.mu.Lock()
	if _, exists := c.stops[key]; exists {
		c.mu.Unlock()
		stop()
		return
	}
	c.stops[key] = stop
	c.mu.Unlock()
}

func (c *Connection) unsubscribe(channel, event string) {
	key := channel + "\x00" + event
	c.mu.Lock()
	stop, exists := c.stops[key]
	if exists {
		delete(c.stops, key)
	}
	c.mu.Unlock()
	if exists {
		stop()
	}
}

// enterPresence joins the channel's presence set and forwards presence
// transitions until the connection closes.
func (c *Connection) enterPresence(ctx context.Context, ch realtime.Channel, channel string) {
	key := channel + "\x00presence"
	c.mu.Lock()
	_, exists := c.stops[key]
	c.mu.Unlock()

	if !exists {
		stop, err := ch.SubscribePresence(func(ev realtime.PresenceEvent) {
			c.sendFrame(serverFrame{
				Type:     FramePresence,
				Channel:  channel,
				ClientID: ev.ClientID,
				Action:   string(ev.Action),
				At:       ev.At,
			})
		})
		if err != nil {
			c.sendError(channel, "presence subscribe failed")
			return
		}
		c.mu.Lock()
		c.stops[key] = stop
		c.mu.Unlock()
	}

	if err := ch.EnterPresence(ctx); err != nil {
		c.sendError(channel, "presence enter failed")
	}
}

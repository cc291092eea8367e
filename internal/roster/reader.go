package roster

import (
	"context"
	"sort"

	"github.com/patentify/sfide/internal/realtime"
	"github.com/rs/zerolog/log"
)

// Snapshot is one authoritative view of lobby membership. Members includes
// the viewer; callers filter themselves out with Others.
type Snapshot struct {
	Members   []string
	Connected bool
}

// Others returns the member set without the viewer's own id.
func (s Snapshot) Others(selfID string) []string {
	out := make([]string, 0, len(s.Members))
	for _, id := range s.Members {
		if id != selfID {
			out = append(out, id)
		}
	}
	return out
}

// Reader exposes the live set of online users. Every presence event triggers
// a full re-fetch of the member list rather than an incremental patch, so
// missed or duplicated events cannot drift the roster.
type Reader struct {
	conn  realtime.Conn
	lobby realtime.Channel

	refreshCh chan struct{}
	snapCh    chan Snapshot
}

func NewReader(conn realtime.Conn) *Reader {
	return &Reader{
		conn:      conn,
		lobby:     conn.Channel(realtime.LobbyChannel),
		refreshCh: make(chan struct{}, 1),
		snapCh:    make(chan Snapshot, 1),
	}
}

// Snapshots is a live stream; only the newest unread snapshot is retained.
func (r *Reader) Snapshots() <-chan Snapshot {
	return r.snapCh
}

// Run subscribes to presence changes and publishes snapshots until ctx is
// cancelled.
func (r *Reader) Run(ctx context.Context) error {
	stop, err := r.lobby.SubscribePresence(func(realtime.PresenceEvent) {
		select {
		case r.refreshCh <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	r.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.refreshCh:
			r.refresh(ctx)
		}
	}
}

func (r *Reader) refresh(ctx context.Context) {
	members, err := r.lobby.GetPresence(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("roster presence re-fetch failed")
		return
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ClientID)
	}
	sort.Strings(ids)

	snap := Snapshot{
		Members:   ids,
		Connected: r.conn.State() == realtime.StateConnected,
	}

	// Latest-wins delivery: replace any unread snapshot.
	for {
		select {
		case r.snapCh <- snap:
			return
		default:
			select {
			case <-r.snapCh:
			default:
			}
		}
	}
}

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/history"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Room is a broadcast domain: its members receive each other's messages.
type Room struct {
	ID string

	mu         sync.Mutex
	members    map[string]*Client
	typing     map[string]string // clientID -> display name
	history    history.Log
	createdAt  time.Time
	lastActive time.Time
	reaped     bool
}

func newRoom(id string, log history.Log, now time.Time) *Room {
	return &Room{
		ID:         id,
		members:    make(map[string]*Client),
		typing:     make(map[string]string),
		history:    log,
		createdAt:  now,
		lastActive: now,
	}
}

// fanout delivers msg to every member except skip and returns how many
// deliveries succeeded. A failed member is logged and skipped. Caller holds
// r.mu, which keeps per-room delivery order equal to acceptance order.
func (r *Room) fanout(h *Hub, msg types.Outbound, skip string) int {
	delivered := 0
	for id, c := range r.members {
		if id == skip {
			continue
		}
		if h.deliver(c, msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Room) info() types.RoomInfo {
	return types.RoomInfo{
		ID:         r.ID,
		Members:    len(r.members),
		Typing:     len(r.typing),
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
	}
}

// Reap removes rooms that have no members and have been idle for longer than
// the configured TTL, discarding their history. It returns the number of
// rooms removed. Reaping is off when no TTL is configured. A reaped room
// cannot be re-created until its history has been discarded.
func (h *Hub) Reap(ctx context.Context) int {
	if h.idleTTL <= 0 {
		return 0
	}
	cutoff := h.now().Add(-h.idleTTL)

	var reaped []*Room
	h.mu.Lock()
	for id, room := range h.rooms {
		// A busy room is not idle.
		if !room.mu.TryLock() {
			continue
		}
		if len(room.members) == 0 && room.lastActive.Before(cutoff) {
			room.reaped = true
			delete(h.rooms, id)
			h.discarding[id] = make(chan struct{})
			reaped = append(reaped, room)
		}
		room.mu.Unlock()
	}
	h.mu.Unlock()

	for _, room := range reaped {
		if err := room.history.Discard(ctx); err != nil {
			h.logger.Warn().Err(err).Str("room_id", room.ID).Msg("discarding history failed")
		}
		h.mu.Lock()
		close(h.discarding[room.ID])
		delete(h.discarding, room.ID)
		h.mu.Unlock()
		h.logger.Info().Str("room_id", room.ID).Msg("idle room reaped")
	}
	return len(reaped)
}

// Run reaps idle rooms periodically until ctx is cancelled. Without an idle
// TTL it just waits for cancellation.
func (h *Hub) Run(ctx context.Context) {
	if h.idleTTL <= 0 || h.sweepEvery <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Reap(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Package hub is the room registry: it tracks connected clients, room
// membership, per-room history and typing state, and fans events out to
// room members.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/history"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

// Hub manages connected clients and the rooms they join.
//
// The room table is guarded by mu; each room serializes its own mutations,
// so activity in one room never waits on another. Lock order is always
// Hub.mu before Room.mu before Client.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*Room

	// discarding holds reaped rooms whose history is still being dropped.
	// A room with the same ID is not re-created until the channel closes.
	discarding map[string]chan struct{}

	newHistory history.Factory
	idleTTL    time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithIdleRooms enables reaping of rooms that have had no members and no
// activity for ttl, checked every interval.
func WithIdleRooms(ttl, interval time.Duration) Option {
	return func(h *Hub) {
		h.idleTTL = ttl
		h.sweepEvery = interval
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New creates a hub whose rooms get their history from newHistory.
func New(newHistory history.Factory, logger zerolog.Logger, opts ...Option) *Hub {
	if newHistory == nil {
		newHistory = history.MemoryFactory(history.DefaultCapacity)
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]*Room),
		discarding: make(map[string]chan struct{}),
		newHistory: newHistory,
		sweepEvery: time.Minute,
		now:        time.Now,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("client_id", c.ID).
		Str("remote_addr", c.RemoteAddr).
		Int("clients", total).
		Msg("client registered")
}

// Unregister removes a client, leaving its room first, and closes it.
func (h *Hub) Unregister(c *Client) {
	if room := c.Room(); room != "" {
		h.Leave(c.ID, room)
	}

	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(h.clients, c.ID)
	total := len(h.clients)
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Int("clients", total).Msg("client unregistered")
}

// Join adds c to roomID, creating the room on first reference, and returns
// the room's history. The history is also queued to c as a history event
// before any later broadcast, so the client never sees a message that its
// history snapshot then overwrites. Existing members are told about a new
// member; everyone gets the updated member count.
func (h *Hub) Join(ctx context.Context, c *Client, roomID string) []types.Message {
	room := h.lockRoom(roomID, true)
	defer room.mu.Unlock()

	now := h.now()
	_, already := room.members[c.ID]
	room.members[c.ID] = c
	room.lastActive = now
	c.setRoom(roomID)

	snapshot, err := room.history.Snapshot(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("history unavailable, replaying nothing")
		snapshot = []types.Message{}
	}
	h.deliver(c, types.Outbound{Event: types.EventHistory, Data: snapshot})

	if !already {
		joined := types.Outbound{
			Event: types.EventUserJoined,
			Data:  types.UserJoined{UserID: c.ID, Timestamp: types.FormatTimestamp(now)},
		}
		room.fanout(h, joined, c.ID)
	}
	room.fanout(h, userCount(len(room.members)), "")

	h.logger.Info().
		Str("client_id", c.ID).
		Str("room_id", roomID).
		Int("members", len(room.members)).
		Bool("rejoin", already).
		Msg("joined room")
	return snapshot
}

// Broadcast appends msg to the room's history and delivers it to every
// member, the sender included. It returns the number of members reached.
// A history backend failure or an unreachable member does not stop delivery.
func (h *Hub) Broadcast(ctx context.Context, roomID string, msg types.Message) int {
	room := h.lockRoom(roomID, true)
	defer room.mu.Unlock()

	if err := room.history.Append(ctx, msg); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Str("message_id", msg.ID).Msg("history append failed")
	}
	room.lastActive = h.now()

	return room.fanout(h, types.Outbound{Event: types.EventMessage, Data: msg}, "")
}

// Leave removes clientID from roomID. It is a no-op when the client is not a
// member. The room itself is kept; see Reap.
func (h *Hub) Leave(clientID, roomID string) bool {
	room := h.lockRoom(roomID, false)
	if room == nil {
		return false
	}
	defer room.mu.Unlock()

	c, ok := room.members[clientID]
	if !ok {
		return false
	}
	delete(room.members, clientID)
	c.clearRoom(roomID)
	room.lastActive = h.now()

	if _, typing := room.typing[clientID]; typing {
		delete(room.typing, clientID)
		room.fanout(h, stoppedTyping(clientID), "")
	}
	room.fanout(h, userCount(len(room.members)), "")

	h.logger.Info().
		Str("client_id", clientID).
		Str("room_id", roomID).
		Int("members", len(room.members)).
		Msg("left room")
	return true
}

// SetTyping records whether clientID is typing in roomID and tells the other
// members. Only changes are announced. It returns false when the client is
// not a member of the room.
func (h *Hub) SetTyping(clientID, roomID, username string, isTyping bool) bool {
	room := h.lockRoom(roomID, false)
	if room == nil {
		return false
	}
	defer room.mu.Unlock()

	if _, ok := room.members[clientID]; !ok {
		return false
	}

	_, wasTyping := room.typing[clientID]
	switch {
	case isTyping && !wasTyping:
		room.typing[clientID] = username
		room.fanout(h, types.Outbound{
			Event: types.EventUserTyping,
			Data:  types.UserTyping{UserID: clientID, Username: username},
		}, clientID)
	case !isTyping && wasTyping:
		delete(room.typing, clientID)
		room.fanout(h, stoppedTyping(clientID), clientID)
	}
	room.lastActive = h.now()
	return true
}

// CloseAll closes every registered client. Their read pumps then run the
// normal disconnect path.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

// lockRoom returns roomID locked, creating it when create is set. It returns
// nil only when the room does not exist and create is false.
func (h *Hub) lockRoom(roomID string, create bool) *Room {
	for {
		h.mu.RLock()
		room, ok := h.rooms[roomID]
		h.mu.RUnlock()

		if !ok {
			if !create {
				return nil
			}
			h.mu.Lock()
			if wait, busy := h.discarding[roomID]; busy {
				h.mu.Unlock()
				<-wait
				continue
			}
			if room, ok = h.rooms[roomID]; !ok {
				room = newRoom(roomID, h.newHistory(roomID), h.now())
				h.rooms[roomID] = room
				h.logger.Debug().Str("room_id", roomID).Msg("room created")
			}
			h.mu.Unlock()
		}

		room.mu.Lock()
		if !room.reaped {
			return room
		}
		// Reaped between lookup and lock; the table no longer holds it.
		room.mu.Unlock()
	}
}

func (h *Hub) deliver(c *Client, msg types.Outbound) bool {
	if c.Deliver(msg) {
		return true
	}
	h.logger.Warn().Str("client_id", c.ID).Str("event", msg.Event).Msg("delivery failed, client closed or buffer full")
	return false
}

func userCount(n int) types.Outbound {
	return types.Outbound{Event: types.EventUserCount, Data: types.UserCount{Count: n}}
}

func stoppedTyping(clientID string) types.Outbound {
	return types.Outbound{Event: types.EventUserStoppedTyping, Data: types.UserStoppedTyping{UserID: clientID}}
}

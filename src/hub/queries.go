package hub

import (
	"sort"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of rooms, empty ones included.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Rooms returns info for every room, sorted by ID.
func (h *Hub) Rooms() []types.RoomInfo {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	out := make([]types.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		out = append(out, r.info())
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Members returns the sorted client IDs in a room.
func (h *Hub) Members(roomID string) []string {
	room := h.lockRoom(roomID, false)
	if room == nil {
		return nil
	}
	defer room.mu.Unlock()

	ids := make([]string, 0, len(room.members))
	for id := range room.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Typing returns the display names of clients typing in a room, keyed by
// client ID.
func (h *Hub) Typing(roomID string) map[string]string {
	room := h.lockRoom(roomID, false)
	if room == nil {
		return nil
	}
	defer room.mu.Unlock()

	out := make(map[string]string, len(room.typing))
	for id, name := range room.typing {
		out[id] = name
	}
	return out
}

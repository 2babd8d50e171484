// Package history keeps the bounded per-room message backlog replayed to
// clients on join. The in-memory ring is the default backend; a Redis list
// can stand in for it behind the same Log interface.
package history

import (
	"context"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// DefaultCapacity is the number of messages retained per room.
const DefaultCapacity = 100

// Log is the history of a single room.
type Log interface {
	// Append records msg as the newest entry, evicting the oldest past capacity.
	Append(ctx context.Context, msg types.Message) error

	// Snapshot returns the retained messages, oldest first.
	Snapshot(ctx context.Context) ([]types.Message, error)

	// Discard drops the room's history.
	Discard(ctx context.Context) error
}

// Factory creates the Log for a room the first time the room is referenced.
type Factory func(roomID string) Log

// Memory is a Log backed by a Ring.
type Memory struct {
	ring *Ring[types.Message]
}

// NewMemory creates an in-memory Log with the given capacity.
func NewMemory(capacity int) *Memory {
	return &Memory{ring: NewRing[types.Message](capacity)}
}

// MemoryFactory returns a Factory producing in-memory logs.
func MemoryFactory(capacity int) Factory {
	return func(string) Log { return NewMemory(capacity) }
}

func (m *Memory) Append(_ context.Context, msg types.Message) error {
	m.ring.Append(msg)
	return nil
}

func (m *Memory) Snapshot(context.Context) ([]types.Message, error) {
	return m.ring.Snapshot(), nil
}

func (m *Memory) Discard(context.Context) error {
	m.ring.Clear()
	return nil
}

// Len returns the number of retained messages.
func (m *Memory) Len() int { return m.ring.Len() }

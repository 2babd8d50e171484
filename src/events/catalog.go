// Package events holds the catalog of chat events clients can browse. The
// catalog is advisory: any event id can be joined as a room.
package events

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event statuses.
const (
	StatusLive     = "live"
	StatusUpcoming = "upcoming"
)

// ErrInvalidEvent is returned when a new event lacks a name or description.
var ErrInvalidEvent = errors.New("event name and description are required")

// Event describes a chat event.
type Event struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Participants int    `json:"participants"`
}

// Catalog is a concurrency-safe in-memory list of events, in creation order.
type Catalog struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewCatalog creates a catalog holding the given events.
func NewCatalog(seed ...Event) *Catalog {
	c := &Catalog{now: time.Now}
	c.events = append(c.events, seed...)
	return c
}

// DefaultCatalog creates a catalog with the built-in demo events.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Event{
			ID:           "tech-conference-2025",
			Name:         "Tech Conference 2025",
			Description:  "Annual technology conference covering AI, blockchain, and web development",
			Status:       StatusLive,
			Participants: 245,
		},
		Event{
			ID:           "gaming-tournament",
			Name:         "Esports Championship",
			Description:  "Live gaming tournament with top players worldwide",
			Status:       StatusLive,
			Participants: 1834,
		},
		Event{
			ID:           "music-festival",
			Name:         "Summer Music Festival",
			Description:  "Live music performances from various artists",
			Status:       StatusUpcoming,
			Participants: 89,
		},
		Event{
			ID:           "sports-match",
			Name:         "Championship Final",
			Description:  "Live sports commentary and discussion",
			Status:       StatusLive,
			Participants: 567,
		},
	)
}

// List returns a copy of all events.
func (c *Catalog) List() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Get returns the event with the given id.
func (c *Catalog) Get(id string) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// Create adds an upcoming event and returns it.
func (c *Catalog) Create(name, description string) (Event, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" || description == "" {
		return Event{}, ErrInvalidEvent
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := Event{
		ID:          fmt.Sprintf("%s-%d", Slug(name), c.now().UnixMilli()),
		Name:        name,
		Description: description,
		Status:      StatusUpcoming,
	}
	c.events = append(c.events, e)
	return e, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Slug lowercases name and joins its words with hyphens.
func Slug(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

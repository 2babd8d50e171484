// Package service is the chat gateway: it turns the frames a connection sends
// into room operations, running messages through the rate limiter and the
// content filter before they reach the room.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/jaevor/go-nanoid"
	"github.com/orchestra-mcp/chatrelay/src/filter"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 9
)

// Admitter decides whether a sender identified by key may send now.
type Admitter interface {
	Admit(key string) bool
}

// Service handles the inbound events of every connection.
type Service struct {
	hub     *hub.Hub
	limiter Admitter
	filter  *filter.Filter
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source used for message ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a gateway over the given registry, limiter and filter.
func New(h *hub.Hub, limiter Admitter, f *filter.Filter, logger zerolog.Logger, opts ...Option) (*Service, error) {
	suffix, err := gonanoid.CustomASCII(idAlphabet, idLength)
	if err != nil {
		return nil, fmt.Errorf("message id generator: %w", err)
	}
	s := &Service{
		hub:     h,
		limiter: limiter,
		filter:  f,
		logger:  logger.With().Str("component", "gateway").Logger(),
		now:     time.Now,
		newID:   suffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Hub returns the underlying room registry.
func (s *Service) Hub() *hub.Hub { return s.hub }

// HandleEnvelope dispatches one inbound frame. Failures are reported to the
// client as an error event; the connection stays open.
func (s *Service) HandleEnvelope(ctx context.Context, c *hub.Client, env types.Envelope) {
	if c.Closed() {
		return
	}

	var err error
	switch env.Event {
	case types.EventJoinRoom:
		var p types.JoinRoomPayload
		if err = decode(env.Data, &p); err == nil {
			err = s.Join(ctx, c, p)
		}
	case types.EventLeaveRoom:
		var p types.LeaveRoomPayload
		if err = decode(env.Data, &p); err == nil {
			err = s.Leave(c, p)
		}
	case types.EventMessage:
		var p types.MessagePayload
		if err = decode(env.Data, &p); err == nil {
			_, err = s.Send(ctx, c, p)
		}
	case types.EventTyping, types.EventStopTyping:
		var p types.TypingPayload
		if err = decode(env.Data, &p); err == nil {
			isTyping := env.Event == types.EventTyping && (p.IsTyping == nil || *p.IsTyping)
			err = s.Typing(c, p, isTyping)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err != nil {
		s.fail(c, env.Event, err)
	}
}

// HandleInvalid reports a frame that was not a JSON envelope.
func (s *Service) HandleInvalid(c *hub.Client, err error) {
	s.logger.Debug().Err(err).Str("client_id", c.ID).Msg("malformed frame")
	s.sendError(c, ReasonMalformed)
}

// Disconnect removes the client from its room and the registry.
func (s *Service) Disconnect(c *hub.Client) {
	s.hub.Unregister(c)
}

// Join moves c into the requested room. Joining another room first leaves
// the current one; re-joining the current room only re-delivers history.
func (s *Service) Join(ctx context.Context, c *hub.Client, p types.JoinRoomPayload) error {
	roomID := strings.TrimSpace(p.EventID)
	if roomID == "" {
		return fmt.Errorf("%w: eventId is required", ErrInvalidPayload)
	}
	if p.User != nil {
		if name := s.filter.SanitizeName(p.User.Username); name != "" {
			c.SetUsername(name)
		}
	}

	if current := c.Room(); current != "" && current != roomID {
		s.hub.Leave(c.ID, current)
	}
	s.hub.Join(ctx, c, roomID)
	return nil
}

// Leave removes c from the room it names. Leaving a room the client is not
// in is not an error.
func (s *Service) Leave(c *hub.Client, p types.LeaveRoomPayload) error {
	roomID := strings.TrimSpace(p.EventID)
	if roomID == "" {
		roomID = c.Room()
	}
	if roomID == "" {
		return nil
	}
	s.hub.Leave(c.ID, roomID)
	return nil
}

// Send admits, filters and broadcasts a chat message from c, returning the
// message as delivered to the room. A message must name the client's current
// room; one without a room id is rejected by the filter.
func (s *Service) Send(ctx context.Context, c *hub.Client, p types.MessagePayload) (types.Message, error) {
	roomID := strings.TrimSpace(p.EventID)
	if roomID != "" {
		if _, err := s.targetRoom(c, roomID); err != nil {
			return types.Message{}, err
		}
	}
	name, err := resolveName(p.Username, p.User)
	if err != nil {
		return types.Message{}, err
	}

	if !s.limiter.Admit(c.RemoteAddr) {
		return types.Message{}, fmt.Errorf("%w: %s", ErrRateLimited, c.RemoteAddr)
	}

	out, err := s.filter.Apply(filter.Input{Text: p.Text, Username: name, RoomID: roomID})
	if err != nil {
		return types.Message{}, err
	}
	c.SetUsername(out.Username)

	now := s.now()
	msg := types.Message{
		ID:        fmt.Sprintf("msg_%d_%s", now.UnixMilli(), s.newID()),
		UserID:    c.ID,
		Username:  out.Username,
		Text:      out.Text,
		Timestamp: types.FormatTimestamp(now),
		EventID:   out.RoomID,
	}
	reached := s.hub.Broadcast(ctx, roomID, msg)

	s.logger.Debug().
		Str("client_id", c.ID).
		Str("room_id", roomID).
		Str("message_id", msg.ID).
		Int("reached", reached).
		Msg("message broadcast")
	return msg, nil
}

// Typing updates c's typing indicator in its current room.
func (s *Service) Typing(c *hub.Client, p types.TypingPayload, isTyping bool) error {
	roomID, err := s.targetRoom(c, p.EventID)
	if err != nil {
		return err
	}
	name, err := resolveName(p.Username, p.User)
	if err != nil {
		return err
	}
	name = s.filter.SanitizeName(name)
	if name == "" {
		name = c.Username()
	}

	if !s.hub.SetTyping(c.ID, roomID, name, isTyping) {
		return ErrNotInRoom
	}
	return nil
}

// targetRoom returns the client's current room, checking that eventID, when
// given, names it.
func (s *Service) targetRoom(c *hub.Client, eventID string) (string, error) {
	current := c.Room()
	if current == "" {
		return "", ErrNotInRoom
	}
	if id := strings.TrimSpace(eventID); id != "" && id != current {
		return "", fmt.Errorf("%w: %s", ErrNotInRoom, id)
	}
	return current, nil
}

func (s *Service) fail(c *hub.Client, event string, err error) {
	reason := clientReason(event, err)
	s.logger.Debug().
		Err(err).
		Str("client_id", c.ID).
		Str("event", event).
		Str("reason", filter.ReasonOf(err).String()).
		Msg("event rejected")
	s.sendError(c, reason)
}

func (s *Service) sendError(c *hub.Client, reason string) {
	c.Deliver(types.Outbound{Event: types.EventError, Data: types.ErrorPayload{Reason: reason}})
}

// decode strictly unmarshals an event's data into v.
func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}
	return nil
}

// resolveName picks the display name from the flat or the nested form. Both
// may be given only when they agree.
func resolveName(flat string, user *types.UserRef) (string, error) {
	if user == nil {
		return flat, nil
	}
	if flat != "" && strings.TrimSpace(flat) != strings.TrimSpace(user.Username) {
		return "", fmt.Errorf("%w: username and user.username differ", ErrInvalidPayload)
	}
	return user.Username, nil
}

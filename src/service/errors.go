package service

import (
	"errors"

	"github.com/orchestra-mcp/chatrelay/src/filter"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

var (
	// ErrInvalidPayload is returned for frames whose data does not decode
	// into the event's payload or lacks a required field.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotInRoom is returned when an event targets a room the client has
	// not joined.
	ErrNotInRoom = errors.New("not in room")

	// ErrRateLimited is returned when the sender exceeded its message quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnknownEvent is returned for event names the gateway does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Reasons sent to clients in error events.
const (
	ReasonJoinFailed    = "Failed to join room"
	ReasonLeaveFailed   = "Failed to leave room"
	ReasonSendFailed    = "Failed to send message"
	ReasonRateLimited   = "Rate limit exceeded"
	ReasonBlocked       = "Message blocked by filters"
	ReasonTypingInvalid = "Invalid typing event"
	ReasonUnknownEvent  = "Unknown event"
	ReasonMalformed     = "Malformed frame"
)

// clientReason maps an error from handling event to the fixed string the
// client sees. Filter reasons are never disclosed.
func clientReason(event string, err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, filter.ErrRejected):
		return ReasonBlocked
	case errors.Is(err, ErrUnknownEvent):
		return ReasonUnknownEvent
	}

	switch event {
	case types.EventJoinRoom:
		return ReasonJoinFailed
	case types.EventLeaveRoom:
		return ReasonLeaveFailed
	case types.EventMessage:
		return ReasonSendFailed
	case types.EventTyping, types.EventStopTyping:
		return ReasonTypingInvalid
	default:
		return ReasonUnknownEvent
	}
}

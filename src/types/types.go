package types

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinRoom   = "joinRoom"
	EventLeaveRoom  = "leaveRoom"
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// Outbound event names. EventMessage is shared with inbound.
const (
	EventHistory           = "history"
	EventUserJoined        = "userJoined"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserCount         = "user_count"
	EventError             = "error"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in the wire timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Envelope is a frame read from a client. Data is decoded per event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a frame written to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Message is a chat message as stored in history and broadcast to a room.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	EventID   string `json:"eventId"`
}

// UserRef is the nested user object some clients send instead of a flat username.
type UserRef struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
}

// JoinRoomPayload is the data of a joinRoom event.
type JoinRoomPayload struct {
	EventID string   `json:"eventId"`
	User    *UserRef `json:"user,omitempty"`
}

// LeaveRoomPayload is the data of a leaveRoom event.
type LeaveRoomPayload struct {
	EventID string `json:"eventId"`
}

// MessagePayload is the data of an inbound message event.
type MessagePayload struct {
	EventID   string   `json:"eventId"`
	Text      string   `json:"text"`
	Username  string   `json:"username,omitempty"`
	User      *UserRef `json:"user,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// TypingPayload is the data of typing and stop_typing events.
// A nil IsTyping on a typing event means the client started typing.
type TypingPayload struct {
	EventID  string   `json:"eventId"`
	Username string   `json:"username,omitempty"`
	User     *UserRef `json:"user,omitempty"`
	IsTyping *bool    `json:"isTyping,omitempty"`
}

// UserJoined notifies room members of a new member.
type UserJoined struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// UserTyping notifies room members that someone started typing.
type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserStoppedTyping notifies room members that someone stopped typing.
type UserStoppedTyping struct {
	UserID string `json:"userId"`
}

// UserCount carries the current member count of a room.
type UserCount struct {
	Count int `json:"count"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Username    string    `json:"username,omitempty"`
	Room        string    `json:"room,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RoomInfo holds metadata about a room.
type RoomInfo struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`
	Typing     int       `json:"typing"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Pinger is implemented by connections that support keepalive pings.
type Pinger interface {
	Ping() error
}

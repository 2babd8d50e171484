// Package filter validates, truncates, screens and HTML-escapes inbound chat
// messages before they reach a room.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	DefaultMaxTextLength = 500
	DefaultMaxNameLength = 50
	Ellipsis             = "..."
)

// ErrRejected is matched by every rejection returned from Apply.
var ErrRejected = errors.New("message rejected")

// Reason identifies why a message was rejected. It is meant for logs and
// metrics only and must not be sent to the sender.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMissingText
	ReasonMissingName
	ReasonMissingRoom
	ReasonRepeatedChar
	ReasonURL
	ReasonSpamKeywords
	ReasonRepeatedPattern
	ReasonExcessiveCaps
	ReasonBlockedWord
)

var reasonNames = map[Reason]string{
	ReasonNone:            "none",
	ReasonMissingText:     "missing_text",
	ReasonMissingName:     "missing_name",
	ReasonMissingRoom:     "missing_room",
	ReasonRepeatedChar:    "repeated_char",
	ReasonURL:             "url",
	ReasonSpamKeywords:    "spam_keywords",
	ReasonRepeatedPattern: "repeated_pattern",
	ReasonExcessiveCaps:   "excessive_caps",
	ReasonBlockedWord:     "blocked_word",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Rejection is the error returned for a filtered message.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return "message rejected: " + r.Reason.String()
}

// Is makes errors.Is(err, ErrRejected) hold for any Rejection.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// ReasonOf extracts the rejection reason from err, or ReasonNone.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ReasonNone
}

// Config holds filter settings.
type Config struct {
	MaxTextLength int
	MaxNameLength int
	BlockedWords  []string
}

// DefaultConfig returns the stock limits and block-list.
func DefaultConfig() Config {
	return Config{
		MaxTextLength: DefaultMaxTextLength,
		MaxNameLength: DefaultMaxNameLength,
		BlockedWords:  []string{"spam", "scam"},
	}
}

// Input is the raw message as received from a client.
type Input struct {
	Text     string
	Username string
	RoomID   string
}

// Output is an accepted, sanitized message.
type Output struct {
	Text     string
	Username string
	RoomID   string
}

// Filter screens messages. It holds no mutable state and is safe for
// concurrent use.
type Filter struct {
	cfg     Config
	blocked []string
	logger  zerolog.Logger
}

// New creates a filter. Non-positive lengths fall back to defaults; a nil
// BlockedWords list means no block-list.
func New(cfg Config, logger zerolog.Logger) *Filter {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}

	blocked := make([]string, 0, len(cfg.BlockedWords))
	for _, w := range cfg.BlockedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			blocked = append(blocked, w)
		}
	}

	return &Filter{
		cfg:     cfg,
		blocked: blocked,
		logger:  logger.With().Str("component", "filter").Logger(),
	}
}

// Apply runs the pipeline: structural checks, truncation, pattern screening,
// block-list, then HTML escaping. A rejected message yields a *Rejection.
func (f *Filter) Apply(in Input) (Output, error) {
	text := strings.TrimSpace(in.Text)
	name := strings.TrimSpace(in.Username)

	switch {
	case text == "":
		return Output{}, f.reject(ReasonMissingText, in)
	case name == "":
		return Output{}, f.reject(ReasonMissingName, in)
	case in.RoomID == "":
		return Output{}, f.reject(ReasonMissingRoom, in)
	}

	text = truncate(text, f.cfg.MaxTextLength, Ellipsis)
	name = truncate(name, f.cfg.MaxNameLength, "")

	if reason := screen(text); reason != ReasonNone {
		return Output{}, f.reject(reason, in)
	}

	lower := strings.ToLower(text)
	for _, w := range f.blocked {
		if strings.Contains(lower, w) {
			return Output{}, f.reject(ReasonBlockedWord, in)
		}
	}

	return Output{
		Text:     Escape(text),
		Username: Escape(name),
		RoomID:   in.RoomID,
	}, nil
}

// SanitizeName trims, truncates and escapes a display name outside the
// message pipeline, e.g. for typing notifications.
func (f *Filter) SanitizeName(name string) string {
	return Escape(truncate(strings.TrimSpace(name), f.cfg.MaxNameLength, ""))
}

func (f *Filter) reject(reason Reason, in Input) error {
	f.logger.Debug().
		Str("reason", reason.String()).
		Str("room_id", in.RoomID).
		Int("text_len", len(in.Text)).
		Msg("message blocked")
	return &Rejection{Reason: reason}
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// Escape replaces the five HTML-significant characters with entities.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// truncate cuts s to max runes, appending suffix when it had to cut.
func truncate(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + suffix
}

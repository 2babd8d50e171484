package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/filter"
	"github.com/orchestra-mcp/chatrelay/src/history"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/ratelimit"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements types.Conn; the gateway tests never run the pumps.
type mockConn struct {
	mu     sync.Mutex
	closed bool
}

func (m *mockConn) WriteJSON(any) error { return nil }
func (m *mockConn) ReadJSON(any) error  { return errors.New("not readable") }
func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type fixture struct {
	hub *hub.Hub
	svc *service.Service
}

func newFixture(t *testing.T, limiter service.Admitter, opts ...service.Option) *fixture {
	t.Helper()
	h := hub.New(history.MemoryFactory(history.DefaultCapacity), zerolog.Nop())
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig(), zerolog.Nop())
	}
	f := filter.New(filter.DefaultConfig(), zerolog.Nop())
	svc, err := service.New(h, limiter, f, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return &fixture{hub: h, svc: svc}
}

func (f *fixture) connect(t *testing.T, id, addr string) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, addr, &mockConn{})
	f.hub.Register(c)
	return c
}

func (f *fixture) send(c *hub.Client, event, data string) {
	env := types.Envelope{Event: event}
	if data != "" {
		env.Data = json.RawMessage(data)
	}
	f.svc.HandleEnvelope(context.Background(), c, env)
}

func drain(c *hub.Client) []types.Outbound {
	var out []types.Outbound
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func only(t *testing.T, frames []types.Outbound, event string) []types.Outbound {
	t.Helper()
	var out []types.Outbound
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func errorReasons(frames []types.Outbound) []string {
	var out []string
	for _, f := range frames {
		if f.Event == types.EventError {
			out = append(out, f.Data.(types.ErrorPayload).Reason)
		}
	}
	return out
}

type denyAll struct{}

func (denyAll) Admit(string) bool { return false }

var messageID = regexp.MustCompile(`^msg_\d+_[0-9a-z]{9}$`)

func TestTwoClientsChat(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")

	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	replayed := only(t, drain(a), types.EventHistory)
	require.Len(t, replayed, 1)
	assert.Empty(t, replayed[0].Data)

	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	assert.Len(t, only(t, drain(a), types.EventUserJoined), 1)
	drain(b)

	f.send(a, types.EventMessage, `{"eventId":"e1","text":"hello","username":"alice"}`)

	for _, c := range []*hub.Client{a, b} {
		msgs := only(t, drain(c), types.EventMessage)
		require.Len(t, msgs, 1, "client %s", c.ID)
		m := msgs[0].Data.(types.Message)
		assert.Equal(t, "A", m.UserID)
		assert.Equal(t, "alice", m.Username)
		assert.Equal(t, "hello", m.Text)
		assert.Equal(t, "e1", m.EventID)
		assert.Regexp(t, messageID, m.ID)
		_, err := time.Parse(types.TimestampLayout, m.Timestamp)
		assert.NoError(t, err)
	}

	// A late joiner gets the message as history.
	c := f.connect(t, "C", "10.0.0.3")
	f.send(c, types.EventJoinRoom, `{"eventId":"e1"}`)
	replay := only(t, drain(c), types.EventHistory)
	require.Len(t, replay, 1)
	msgs := replay[0].Data.([]types.Message)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestSendUsesClock(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, service.WithClock(func() time.Time { return at }))
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)

	m, err := f.svc.Send(context.Background(), a, types.MessagePayload{EventID: "e1", Text: "hi", Username: "alice"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.ID, fmt.Sprintf("msg_%d_", at.UnixMilli())))
	assert.Equal(t, "2025-06-01T12:00:00.000Z", m.Timestamp)
}

func TestNestedUserForm(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1","user":{"id":"u1","username":"alice"}}`)
	assert.Equal(t, "alice", a.Username())
	drain(a)

	f.send(a, types.EventMessage, `{"eventId":"e1","text":"hi","user":{"id":"u1","username":"alice"}}`)
	msgs := only(t, drain(a), types.EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Data.(types.Message).Username)

	f.send(a, types.EventMessage, `{"eventId":"e1","text":"hi","username":"bob","user":{"username":"alice"}}`)
	assert.Equal(t, []string{service.ReasonSendFailed}, errorReasons(drain(a)))
}

func TestMessageIsSanitizedAndTruncated(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)

	m, err := f.svc.Send(context.Background(), a, types.MessagePayload{Text: "<script>", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "&lt;script&gt;", m.Text)

	long := string([]rune(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20))[:600])
	m, err = f.svc.Send(context.Background(), a, types.MessagePayload{Text: long, Username: "alice"})
	require.NoError(t, err)
	assert.Len(t, m.Text, 503)
	assert.True(t, strings.HasSuffix(m.Text, "..."))
}

func TestFilteredMessageIsNotBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)
	drain(b)

	for _, text := range []string{"aaaaaaaaaaaa", "visit https://example.com", "this is spam", "  "} {
		f.send(a, types.EventMessage, fmt.Sprintf(`{"eventId":"e1","text":%q,"username":"alice"}`, text))
		assert.Equal(t, []string{service.ReasonBlocked}, errorReasons(drain(a)), text)
	}
	assert.Empty(t, drain(b))

	_, err := f.svc.Send(context.Background(), a, types.MessagePayload{Text: "hi"})
	assert.ErrorIs(t, err, filter.ErrRejected)
	assert.Equal(t, filter.ReasonMissingName, filter.ReasonOf(err))
}

func TestMessageWithoutRoomIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)
	drain(b)

	f.send(a, types.EventMessage, `{"text":"hi","username":"alice"}`)
	assert.Equal(t, []string{service.ReasonBlocked}, errorReasons(drain(a)))
	f.send(a, types.EventMessage, `{"eventId":"  ","text":"hi","username":"alice"}`)
	assert.Equal(t, []string{service.ReasonBlocked}, errorReasons(drain(a)))
	assert.Empty(t, drain(b))

	_, err := f.svc.Send(context.Background(), a, types.MessagePayload{Text: "hi", Username: "alice"})
	assert.ErrorIs(t, err, filter.ErrRejected)
	assert.Equal(t, filter.ReasonMissingRoom, filter.ReasonOf(err))

	c := f.connect(t, "C", "10.0.0.3")
	assert.Empty(t, f.hub.Join(context.Background(), c, "e1"), "rejected messages stay out of history")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)

	for i := 0; i < 15; i++ {
		f.send(a, types.EventMessage, fmt.Sprintf(`{"eventId":"e1","text":"message %d","username":"alice"}`, i))
	}
	frames := drain(a)
	assert.Len(t, only(t, frames, types.EventMessage), 15)
	assert.Empty(t, errorReasons(frames))

	f.send(a, types.EventMessage, `{"eventId":"e1","text":"one more","username":"alice"}`)
	assert.Equal(t, []string{service.ReasonRateLimited}, errorReasons(drain(a)))

	// The limit is per remote address, not per connection.
	b := f.connect(t, "B", "10.0.0.1")
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(b)
	f.send(b, types.EventMessage, `{"eventId":"e1","text":"me too","username":"bob"}`)
	assert.Equal(t, []string{service.ReasonRateLimited}, errorReasons(drain(b)))
}

func TestRateLimitCheckedBeforeFilter(t *testing.T) {
	f := newFixture(t, denyAll{})
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)

	_, err := f.svc.Send(context.Background(), a, types.MessagePayload{Text: "aaaaaaaaaaaa", Username: "alice"})
	assert.ErrorIs(t, err, service.ErrRateLimited)
}

func TestSendOutsideRoom(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")

	_, err := f.svc.Send(context.Background(), a, types.MessagePayload{EventID: "e1", Text: "hi", Username: "alice"})
	assert.ErrorIs(t, err, service.ErrNotInRoom)

	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)
	f.send(a, types.EventMessage, `{"eventId":"e2","text":"hi","username":"alice"}`)
	assert.Equal(t, []string{service.ReasonSendFailed}, errorReasons(drain(a)))
	assert.Equal(t, 1, f.hub.RoomCount(), "no room created for e2")
}

func TestInvalidFrames(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")

	tests := []struct {
		name   string
		event  string
		data   string
		reason string
	}{
		{"unknown event", "shout", `{}`, service.ReasonUnknownEvent},
		{"missing data", types.EventJoinRoom, "", service.ReasonJoinFailed},
		{"null data", types.EventJoinRoom, "null", service.ReasonJoinFailed},
		{"empty room", types.EventJoinRoom, `{"eventId":"  "}`, service.ReasonJoinFailed},
		{"unknown field", types.EventJoinRoom, `{"eventId":"e1","admin":true}`, service.ReasonJoinFailed},
		{"wrong type", types.EventJoinRoom, `{"eventId":42}`, service.ReasonJoinFailed},
		{"message not json object", types.EventMessage, `"hello"`, service.ReasonSendFailed},
		{"typing outside room", types.EventTyping, `{"eventId":"e1"}`, service.ReasonTypingInvalid},
		{"leave bad payload", types.EventLeaveRoom, `[]`, service.ReasonLeaveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.send(a, tt.event, tt.data)
			assert.Equal(t, []string{tt.reason}, errorReasons(drain(a)))
		})
	}
	assert.Equal(t, "", a.Room())
	assert.False(t, a.Closed())

	f.svc.HandleInvalid(a, errors.New("bad json"))
	assert.Equal(t, []string{service.ReasonMalformed}, errorReasons(drain(a)))
}

func TestJoinSwitchesRooms(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(b)

	f.send(a, types.EventJoinRoom, `{"eventId":"e2"}`)
	assert.Equal(t, "e2", a.Room())
	assert.Equal(t, []string{"B"}, f.hub.Members("e1"))
	assert.Equal(t, []string{"A"}, f.hub.Members("e2"))

	counts := only(t, drain(b), types.EventUserCount)
	require.Len(t, counts, 1)
	assert.Equal(t, types.UserCount{Count: 1}, counts[0].Data)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)

	f.send(a, types.EventLeaveRoom, `{"eventId":"e1"}`)
	assert.Equal(t, "", a.Room())
	assert.Empty(t, f.hub.Members("e1"))

	// Leaving again, or leaving a room never joined, is silent.
	f.send(a, types.EventLeaveRoom, `{"eventId":"e1"}`)
	f.send(a, types.EventLeaveRoom, `{"eventId":"elsewhere"}`)
	assert.Empty(t, errorReasons(drain(a)))
}

func TestTyping(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(a)
	drain(b)

	f.send(a, types.EventTyping, `{"eventId":"e1","username":"<alice>"}`)
	assert.Empty(t, drain(a))
	typing := only(t, drain(b), types.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, types.UserTyping{UserID: "A", Username: "&lt;alice&gt;"}, typing[0].Data)

	f.send(a, types.EventTyping, `{"eventId":"e1","username":"alice","isTyping":false}`)
	assert.Len(t, only(t, drain(b), types.EventUserStoppedTyping), 1)

	f.send(a, types.EventTyping, `{"eventId":"e1","user":{"username":"alice"},"isTyping":true}`)
	assert.Len(t, only(t, drain(b), types.EventUserTyping), 1)

	f.send(a, types.EventStopTyping, `{"eventId":"e1"}`)
	assert.Len(t, only(t, drain(b), types.EventUserStoppedTyping), 1)
	assert.Empty(t, f.hub.Typing("e1"))
}

func TestTypingFallsBackToKnownName(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1","user":{"username":"alice"}}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	drain(b)

	f.send(a, types.EventTyping, `{"eventId":"e1"}`)
	typing := only(t, drain(b), types.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "alice", typing[0].Data.(types.UserTyping).Username)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect(t, "A", "10.0.0.1")
	b := f.connect(t, "B", "10.0.0.2")
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(b, types.EventJoinRoom, `{"eventId":"e1"}`)
	f.send(a, types.EventTyping, `{"eventId":"e1","username":"alice"}`)
	drain(b)

	f.svc.Disconnect(a)
	assert.True(t, a.Closed())
	assert.Equal(t, []string{"B"}, f.hub.Members("e1"))
	assert.Nil(t, f.hub.ClientInfo("A"))

	frames := drain(b)
	assert.Len(t, only(t, frames, types.EventUserStoppedTyping), 1)
	assert.Len(t, only(t, frames, types.EventUserCount), 1)

	// A closed client's late frames are ignored.
	f.send(a, types.EventJoinRoom, `{"eventId":"e1"}`)
	assert.Equal(t, []string{"B"}, f.hub.Members("e1"))
}

func TestConcurrentSenders(t *testing.T) {
	f := newFixture(t, ratelimit.New(ratelimit.Config{Max: 1000, Window: time.Minute}, zerolog.Nop()))
	clients := make([]*hub.Client, 4)
	for i := range clients {
		clients[i] = f.connect(t, fmt.Sprintf("c%d", i), fmt.Sprintf("10.0.0.%d", i))
		f.send(clients[i], types.EventJoinRoom, `{"eventId":"e1"}`)
	}
	for _, c := range clients {
		drain(c)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *hub.Client) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				f.send(c, types.EventMessage, fmt.Sprintf(`{"eventId":"e1","text":"%s says %d","username":"%s"}`, c.ID, i, c.ID))
			}
		}(c)
	}
	wg.Wait()

	var first []string
	for _, c := range clients {
		var ids []string
		for _, m := range only(t, drain(c), types.EventMessage) {
			ids = append(ids, m.Data.(types.Message).ID)
		}
		require.Len(t, ids, 40)
		if first == nil {
			first = ids
			continue
		}
		assert.Equal(t, first, ids)
	}
}

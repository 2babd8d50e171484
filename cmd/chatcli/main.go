// Command chatcli is a terminal client for the chat relay.
//
//	chatcli -url ws://localhost:3001/ws -room tech-conference-2025 -name alice
//
// Each line read from stdin is sent as a message; room events are printed
// as they arrive.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "relay WebSocket URL")
	room := flag.String("room", "tech-conference-2025", "event id to join")
	name := flag.String("name", "guest", "display name")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("url", *url).Msg("dial relay")
	}
	defer conn.Close()

	send := func(event string, data any) error {
		return conn.WriteJSON(types.Outbound{Event: event, Data: data})
	}
	user := &types.UserRef{Username: *name}
	if err := send(types.EventJoinRoom, types.JoinRoomPayload{EventID: *room, User: user}); err != nil {
		logger.Fatal().Err(err).Msg("join room")
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if err := send(types.EventMessage, types.MessagePayload{EventID: *room, Text: text, User: user}); err != nil {
				logger.Error().Err(err).Msg("send message")
				return
			}
		}
		_ = send(types.EventLeaveRoom, types.LeaveRoomPayload{EventID: *room})
		conn.Close()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.Close()
	}()

	out := newPrinter(os.Stdout)
	for {
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			logger.Info().Err(err).Msg("disconnected")
			return
		}
		out.event(env)
	}
}

// printer renders room events as text lines. It remembers who is typing so
// a stop can be shown under the name the start carried.
type printer struct {
	out    io.Writer
	typing map[string]string // userId -> username
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, typing: make(map[string]string)}
}

func (p *printer) event(env types.Envelope) {
	switch env.Event {
	case types.EventHistory:
		var msgs []types.Message
		if json.Unmarshal(env.Data, &msgs) == nil {
			fmt.Fprintf(p.out, "-- %d earlier messages --\n", len(msgs))
			for _, m := range msgs {
				p.message(m)
			}
		}
	case types.EventMessage:
		var m types.Message
		if json.Unmarshal(env.Data, &m) == nil {
			p.message(m)
		}
	case types.EventUserJoined:
		var d types.UserJoined
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Fprintf(p.out, "* %s joined\n", d.UserID)
		}
	case types.EventUserTyping:
		var d types.UserTyping
		if json.Unmarshal(env.Data, &d) == nil {
			p.typing[d.UserID] = d.Username
			fmt.Fprintf(p.out, "* %s is typing\n", d.Username)
		}
	case types.EventUserStoppedTyping:
		var d types.UserStoppedTyping
		if json.Unmarshal(env.Data, &d) == nil {
			name, ok := p.typing[d.UserID]
			if !ok {
				name = d.UserID
			}
			delete(p.typing, d.UserID)
			fmt.Fprintf(p.out, "* %s stopped typing\n", name)
		}
	case types.EventUserCount:
		var d types.UserCount
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Fprintf(p.out, "* %d in room\n", d.Count)
		}
	case types.EventError:
		var d types.ErrorPayload
		if json.Unmarshal(env.Data, &d) == nil {
			fmt.Fprintf(p.out, "! %s\n", d.Reason)
		}
	}
}

func (p *printer) message(m types.Message) {
	fmt.Fprintf(p.out, "[%s] %s: %s\n", m.Timestamp, m.Username, m.Text)
}

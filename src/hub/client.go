package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// sendBuffer is the number of outbound frames queued per client before
// further deliveries to it are dropped.
const sendBuffer = 256

// Handler consumes the inbound side of a connection.
type Handler interface {
	// HandleEnvelope processes one frame read from c.
	HandleEnvelope(ctx context.Context, c *Client, env types.Envelope)

	// HandleInvalid is called for frames that are not a JSON envelope.
	HandleInvalid(c *Client, err error)

	// Disconnect is called once when the read side of c ends.
	Disconnect(c *Client)
}

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID         string
	RemoteAddr string
	conn       types.Conn
	Send       chan types.Outbound

	connectedAt time.Time
	mu          sync.RWMutex
	room        string
	username    string
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id, remoteAddr string, conn types.Conn) *Client {
	return &Client{
		ID:          id,
		RemoteAddr:  remoteAddr,
		conn:        conn,
		Send:        make(chan types.Outbound, sendBuffer),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ClientInfo{
		ID:          c.ID,
		RemoteAddr:  c.RemoteAddr,
		Username:    c.username,
		Room:        c.room,
		ConnectedAt: c.connectedAt,
	}
}

// Room returns the room the client is in, or "".
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
}

// clearRoom resets the room only if it still equals room.
func (c *Client) clearRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == room {
		c.room = ""
	}
}

// Username returns the last display name the client used.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// SetUsername records the client's display name.
func (c *Client) SetUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
}

// Closed reports whether the client has been closed.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Deliver queues msg for the write pump without blocking. It returns false
// when the client is closed or its buffer is full.
func (c *Client) Deliver(msg types.Outbound) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump reads frames from the connection and passes them to h until the
// connection fails. It then calls h.Disconnect and closes the connection.
func (c *Client) ReadPump(ctx context.Context, h Handler) {
	defer func() {
		h.Disconnect(c)
		c.conn.Close()
	}()

	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if isDecodeError(err) {
				h.HandleInvalid(c, err)
				continue
			}
			return
		}
		h.HandleEnvelope(ctx, c, env)
	}
}

// WritePump writes queued frames to the connection. When pingEvery is
// positive and the connection is a types.Pinger, it also sends keepalives.
func (c *Client) WritePump(pingEvery time.Duration) {
	defer c.conn.Close()

	pinger, _ := c.conn.(types.Pinger)
	var tick <-chan time.Time
	if pinger != nil && pingEvery > 0 {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps. It is safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}

// isDecodeError reports whether err came from JSON decoding rather than the
// transport, in which case the connection is still usable.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

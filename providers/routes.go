package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatrelay/src/events"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/valyala/fasthttp"
)

// wsPath is served by the upgrade handler; everything else goes to fiber.
const wsPath = "/ws"

// RegisterRoutes registers the HTTP API on a fiber router.
func (r *Relay) RegisterRoutes(group fiber.Router) {
	group.Get("/health", r.handleHealth)
	group.Get("/ready", r.handleReady)
	group.Get("/api/events", r.handleListEvents)
	group.Post("/api/events", r.handleCreateEvent)
	group.Get("/api/rooms", r.handleRooms)
	group.Get("/api/clients", r.handleClients)
	group.Get("/ws/info", r.handleInfo)
}

// Handler returns the root fasthttp handler. Fiber v3 does not expose
// *fasthttp.RequestCtx to route handlers, so WebSocket upgrades are
// dispatched here before the request reaches the fiber app.
func (r *Relay) Handler() fasthttp.RequestHandler {
	api := r.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == wsPath {
			r.handleUpgrade(ctx)
			return
		}
		api(ctx)
	}
}

func (r *Relay) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": types.FormatTimestamp(time.Now()),
		"version":   Version,
	})
}

func (r *Relay) handleReady(c fiber.Ctx) error {
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.store.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "unavailable",
				"timestamp": types.FormatTimestamp(time.Now()),
				"error":     "history store unreachable",
			})
		}
	}
	return c.JSON(fiber.Map{
		"status":    "ready",
		"timestamp": types.FormatTimestamp(time.Now()),
		"history":   r.historyBackend(),
	})
}

// eventView is a catalog entry with the number of clients currently in its room.
type eventView struct {
	events.Event
	Online int `json:"online"`
}

func (r *Relay) handleListEvents(c fiber.Ctx) error {
	list := r.catalog.List()
	out := make([]eventView, len(list))
	for i, e := range list {
		out[i] = eventView{Event: e, Online: len(r.hub.Members(e.ID))}
	}
	return c.JSON(out)
}

type createEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *Relay) handleCreateEvent(c fiber.Ctx) error {
	var req createEventRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	e, err := r.catalog.Create(req.Name, req.Description)
	if errors.Is(err, events.ErrInvalidEvent) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Event name and description are required"})
	}
	if err != nil {
		return err
	}
	r.logger.Info().Str("room_id", e.ID).Msg("event created")
	return c.Status(fiber.StatusCreated).JSON(e)
}

func (r *Relay) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  wsPath,
		"clients":   r.hub.ClientCount(),
		"rooms":     r.hub.RoomCount(),
	})
}

func (r *Relay) historyBackend() string {
	if r.store != nil {
		return "redis"
	}
	return "memory"
}

// handleUpgrade admits and upgrades a WebSocket connection, then runs its
// pumps until the connection ends.
func (r *Relay) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	ip := ctx.RemoteIP().String()
	if !r.admission.Allow(ip) {
		r.logger.Warn().Str("remote_addr", ip).Msg("connection rate exceeded")
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"too_many_connections","message":"Connection rate exceeded"}`)
		return
	}

	clientID := uuid.New().String()
	err := r.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		r.serveConn(clientID, ip, conn)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("remote_addr", ip).Msg("websocket upgrade failed")
	}
}

func (r *Relay) serveConn(clientID, ip string, conn *websocket.Conn) {
	conn.SetReadLimit(r.cfg.MaxFrameBytes)
	wc := newWSConn(conn, r.cfg.WriteTimeout, r.cfg.PingInterval)

	client := hub.NewClient(clientID, ip, wc)
	r.hub.Register(client)
	go client.WritePump(r.cfg.PingInterval)
	client.ReadPump(r.ctx, r.service)
}

// checkOrigin accepts requests without an Origin header and those whose
// origin is listed in AllowedOrigins. "*" allows any origin.
func (r *Relay) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn and types.Pinger.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// newWSConn applies keepalive deadlines: with pings enabled, a peer that
// answers no pong within two intervals is dropped.
func newWSConn(conn *websocket.Conn, writeTimeout, pingEvery time.Duration) *wsConn {
	if pingEvery > 0 {
		wait := 2 * pingEvery
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (w *wsConn) WriteJSON(v any) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteJSON(v)
}

// ReadJSON reads one whole frame before decoding it, so an empty or
// truncated frame surfaces as a JSON error rather than a read failure.
func (w *wsConn) ReadJSON(v any) error {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (w *wsConn) Ping() error {
	var deadline time.Time
	if w.writeTimeout > 0 {
		deadline = time.Now().Add(w.writeTimeout)
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *wsConn) Close() error { return w.conn.Close() }

package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/src/events"
	"github.com/orchestra-mcp/chatrelay/src/filter"
	"github.com/orchestra-mcp/chatrelay/src/history"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/ratelimit"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// admissionSweep is how often idle connection buckets are dropped.
const admissionSweep = time.Minute

// Relay wires the chat components together and serves them over HTTP.
type Relay struct {
	active   bool
	ctx      context.Context
	cfg      *config.ChatConfig
	redisCfg *history.RedisConfig
	logger   zerolog.Logger

	hub       *hub.Hub
	service   *service.Service
	limiter   *ratelimit.Limiter
	filter    *filter.Filter
	catalog   *events.Catalog
	store     *history.RedisStore
	admission *Admission

	app      *fiber.App
	server   *fasthttp.Server
	upgrader websocket.FastHTTPUpgrader
}

// NewRelay creates a relay instance. A nil or disabled redisCfg keeps
// history in memory.
func NewRelay(cfg *config.ChatConfig, redisCfg *history.RedisConfig, logger zerolog.Logger) *Relay {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Relay{
		cfg:      cfg,
		redisCfg: redisCfg,
		logger:   logger,
	}
}

// Activate builds the registry, limiter, filter and gateway, and prepares
// the HTTP server. ctx bounds every connection the relay serves.
func (r *Relay) Activate(ctx context.Context) error {
	r.ctx = ctx
	r.initStore(ctx)

	newHistory := history.MemoryFactory(r.cfg.HistorySize)
	if r.store != nil {
		newHistory = r.store.Factory()
	}
	r.hub = hub.New(newHistory, r.logger, hub.WithIdleRooms(r.cfg.RoomIdleTTL, r.cfg.RoomSweep))
	r.limiter = ratelimit.New(ratelimit.Config{
		Max:           r.cfg.RateLimitMax,
		Window:        r.cfg.RateLimitWindow,
		SweepInterval: r.cfg.RateLimitSweep,
	}, r.logger)
	r.filter = filter.New(filter.Config{
		MaxTextLength: filter.DefaultMaxTextLength,
		MaxNameLength: filter.DefaultMaxNameLength,
		BlockedWords:  r.cfg.BlockedWords,
	}, r.logger)
	r.catalog = events.DefaultCatalog()
	r.admission = NewAdmission(r.cfg.ConnectRate, r.cfg.ConnectBurst)

	svc, err := service.New(r.hub, r.limiter, r.filter, r.logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	r.service = svc

	r.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
	r.app = fiber.New(fiber.Config{AppName: "chatrelay"})
	r.RegisterRoutes(r.app)
	r.server = &fasthttp.Server{
		Handler: r.Handler(),
		Name:    "chatrelay",
	}

	r.active = true
	r.logger.Info().
		Str("addr", r.cfg.Addr()).
		Bool("redis_history", r.store != nil).
		Dur("room_idle_ttl", r.cfg.RoomIdleTTL).
		Msg("chat relay activated")
	return nil
}

// initStore tries to connect the Redis history store.
// If Redis is not reachable, rooms keep their history in memory.
func (r *Relay) initStore(ctx context.Context) {
	if r.redisCfg == nil || !r.redisCfg.Enabled() {
		return
	}
	store, err := history.NewRedisStore(r.redisCfg, r.cfg.HistorySize, r.logger)
	if err != nil {
		r.logger.Warn().Err(err).Msg("redis history misconfigured, keeping history in memory")
		return
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		r.logger.Warn().Err(err).Msg("redis history unavailable, keeping history in memory")
		return
	}
	r.store = store
	r.logger.Info().Str("redis_addr", r.redisCfg.Addr).Msg("redis history connected")
}

// Serve accepts connections on ln until ctx is cancelled or the server
// fails, then closes every client and shuts the server down.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	if !r.active {
		return errors.New("relay not activated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.server.Serve(ln); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r.admission.Run(gctx, admissionSweep)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return r.shutdown()
	})

	r.logger.Info().Str("addr", ln.Addr().String()).Msg("chat relay listening")
	return g.Wait()
}

// ListenAndServe listens on the configured port and calls Serve.
func (r *Relay) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Addr(), err)
	}
	return r.Serve(ctx, ln)
}

func (r *Relay) shutdown() error {
	closed := r.hub.CloseAll()
	r.logger.Info().Int("clients", closed).Msg("closing client connections")

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := r.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Deactivate releases the history store.
func (r *Relay) Deactivate() error {
	var err error
	if r.store != nil {
		if err = r.store.Close(); err != nil {
			r.logger.Error().Err(err).Msg("redis history close error")
		}
		r.store = nil
	}
	r.active = false
	return err
}

// IsActive reports whether Activate has completed.
func (r *Relay) IsActive() bool { return r.active }

// Hub returns the room registry.
func (r *Relay) Hub() *hub.Hub { return r.hub }

// Service returns the chat gateway.
func (r *Relay) Service() *service.Service { return r.service }

// Catalog returns the event catalog.
func (r *Relay) Catalog() *events.Catalog { return r.catalog }

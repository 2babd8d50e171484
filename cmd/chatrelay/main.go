// Command chatrelay runs the real-time chat relay.
package main

import (
	"context"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/providers"
	"github.com/orchestra-mcp/chatrelay/src/history"
)

func main() {
	cfg := config.FromEnv()
	logger := cfg.NewLogger(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := providers.NewRelay(cfg, history.RedisConfigFromEnv(), logger)
	if err := relay.Activate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("activate relay")
	}

	var serveErr error
	stopped := make(chan struct{})
	go func() {
		serveErr = relay.ListenAndServe(ctx)
		close(stopped)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(context.Context) error {
				logger.Info().Msg("graceful shutdown initiated")
				cancel()
				<-stopped
				if serveErr != nil {
					return serveErr
				}
				return relay.Deactivate()
			},
		},
	)

	done := stopped
	for {
		select {
		case <-done:
			if ctx.Err() == nil {
				// Stopped without a signal, e.g. the port was taken.
				logger.Error().Err(serveErr).Msg("relay stopped")
				_ = relay.Deactivate()
				os.Exit(1)
			}
			done = nil
		case code := <-wait:
			logger.Info().Int("exit_code", code).Msg("relay exited")
			os.Exit(code)
		}
	}
}

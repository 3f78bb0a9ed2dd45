package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/isonp/internal/observability"
	"github.com/danmuck/isonp/internal/server"
)

const defaultConfigPath = "cmd/isonpd/config.toml"

func main() {
	path := flag.String("config", defaultConfigPath, "server config path (missing file uses defaults)")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	logger := observability.InitLogger("isonpd")

	cfg, err := resolveConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isonpd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("addr", cfg.Addr).
		Dur("poll_hold", cfg.PollHold).
		Dur("session_ttl", cfg.SessionTTL).
		Msg("isonpd starting")
	if err := server.New(cfg).Serve(ctx); err != nil {
		logger.Error().Err(err).Msg("isonpd stopped")
		os.Exit(1)
	}
}

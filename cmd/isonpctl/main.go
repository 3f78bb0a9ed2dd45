package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/isonp/internal/observability"
	"github.com/danmuck/isonp/internal/transport/jsonp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "cmd/isonpctl/config.toml"

func main() {
	path := flag.String("config", defaultConfigPath, "client config path (missing file uses defaults)")
	pollURL := flag.String("url", "", "poll url override")
	writeURL := flag.String("write-url", "", "write url override")
	mode := flag.String("mode", "", "poll mode override: long|short")
	flag.Parse()

	logger := observability.InitLogger("isonpctl")

	cfg, err := resolveConfig(*path)
	if err == nil {
		cfg, err = applyFlags(cfg, *pollURL, *writeURL, *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "isonpctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "isonpctl: %v\n", err)
		os.Exit(1)
	}
}

func applyFlags(cfg jsonp.Config, pollURL, writeURL, mode string) (jsonp.Config, error) {
	if pollURL != "" {
		cfg.URL = pollURL
	}
	if writeURL != "" {
		cfg.WriteURL = writeURL
	}
	if mode != "" {
		m, err := jsonp.ParseMode(mode)
		if err != nil {
			return jsonp.Config{}, err
		}
		cfg.Mode = m
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// run opens one session, prints every received message to out and sends each
// line of in as a message. It returns when ctx ends.
func run(ctx context.Context, cfg jsonp.Config, logger zerolog.Logger, in io.Reader, out io.Writer) error {
	hub := jsonp.NewEventHub(logger)
	defer hub.Close()
	events, unsubscribe, err := hub.Subscribe(64)
	if err != nil {
		return err
	}
	defer unsubscribe()

	session, err := jsonp.New(cfg, jsonp.Options{Sink: hub, Logger: &logger})
	if err != nil {
		return err
	}
	if err := session.Initialize(); err != nil {
		return err
	}
	defer session.End()
	logger.Info().
		Str("session", session.ID()).
		Str("url", cfg.URL).
		Bool("isolated", session.Isolated()).
		Msg("session open")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-events:
				if !ok {
					return nil
				}
				printEvent(out, event)
			}
		}
	})
	if cfg.WriteURL != "" {
		// stdin has no cancelable read; this goroutine is left behind on exit
		go sendLines(gctx, session, logger, in)
	}
	return g.Wait()
}

func sendLines(ctx context.Context, session *jsonp.Session, logger zerolog.Logger, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		if err := session.Write(line, nil); err != nil {
			logger.Warn().Err(err).Msg("write rejected")
			return
		}
	}
}

func printEvent(out io.Writer, event jsonp.Event) {
	if event.Type == jsonp.EventError {
		source := event.RequestID
		if source == "" {
			source = "session"
		}
		fmt.Fprintf(out, "error %s: %v\n", source, event.Err)
		return
	}
	if len(event.Data) == 0 {
		// script loaded without delivering a call
		return
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(event.Data, &msgs); err != nil {
		fmt.Fprintf(out, "%s\n", event.Data)
		return
	}
	for _, msg := range msgs {
		fmt.Fprintf(out, "%s\n", msg)
	}
}

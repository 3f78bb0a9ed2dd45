package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/isonp/internal/clock"
	"github.com/danmuck/isonp/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 5 * time.Second

type Server struct {
	cfg      Config
	hub      *Hub
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
}

// New builds the gin engine and registers every route.
func New(cfg Config) *Server {
	return NewWithClock(cfg, clock.System())
}

// NewWithClock is New with the clock used for mailbox idle tracking.
func NewWithClock(cfg Config, c clock.Clock) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	logger := log.Logger.With().Str("server", cfg.Name).Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/ready", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		hub:      NewHub(c, cfg.MaxQueue, logger),
		router:   r,
		logger:   logger,
		appeared: time.Now(),
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on the configured address until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the HTTP server, the mailbox sweeper and shutdown as one
// group. The first failure or ctx ending stops all three.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := s.cfg.TLSCertFile != ""
		s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", tls).Msg("poll server listening")
		var err error
		if tls {
			err = srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.logger.Info().Err(err).Msg("poll server stopped")
		return err
	})
	return g.Wait()
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.Sweep(s.cfg.SessionTTL)
		}
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aranyaone/relay/internal/analytics"
	"github.com/aranyaone/relay/internal/auth"
	"github.com/aranyaone/relay/internal/config"
	"github.com/aranyaone/relay/internal/hub"
	"github.com/aranyaone/relay/internal/logging"
	"github.com/aranyaone/relay/internal/pubsub"
	"github.com/aranyaone/relay/internal/websocket"
)

// Server holds the dependencies for the hub's HTTP edge. Everything is
// constructed here, once, and passed by reference; there is no hidden global
// state and the lifecycle is tied to Start/Shutdown.
type Server struct {
	E         *echo.Echo
	Cfg       *config.Config
	Hub       *hub.Hub
	PubSub    *pubsub.WatermillBridge
	Collector *analytics.Collector

	bridge       *websocket.Bridge
	cancel       context.CancelFunc
	traceCleanup func()
}

// New wires the full hub stack from configuration.
func New() (*Server, error) {
	logging.New()

	cfg, err := config.New()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires the full hub stack from an explicit configuration.
// Tests use this to avoid touching the environment.
func NewWithConfig(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	tracer, traceCleanup, err := pubsub.SetupOTel(ctx, pubsub.LoadTracingConfigFromEnv())
	if err != nil {
		cancel()
		return nil, err
	}
	bus := pubsub.NewWatermillBridgeWithTracer(tracer)

	significance := hub.NewSignificancePolicy(cfg.SignificantEvents...)
	if cfg.SignificanceFile != "" {
		if err := significance.LoadFile(cfg.SignificanceFile); err != nil {
			slog.Warn("Falling back to configured significance list", "error", err)
		} else if err := significance.Watch(ctx, cfg.SignificanceFile); err != nil {
			slog.Warn("Significance policy file will not hot-reload", "error", err)
		}
	}

	h := hub.New(hub.Config{
		SendBuffer:        cfg.SendBuffer,
		IdleTimeout:       cfg.IdleTimeout,
		EvictInterval:     cfg.EvictInterval,
		DashboardInterval: cfg.DashboardInterval,
	}, bus, hub.WithSignificancePolicy(significance))

	collector, err := analytics.NewCollector(ctx, bus, h.Registry(), h.Rooms())
	if err != nil {
		cancel()
		return nil, err
	}
	// Dashboard snapshots come from the collector's aggregates.
	h.SetSnapshotSource(collector)

	authenticator, err := auth.NewJWTAuthenticator(auth.DefaultOptions([]byte(cfg.JWTSecret)))
	if err != nil {
		cancel()
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		E:            e,
		Cfg:          cfg,
		Hub:          h,
		PubSub:       bus,
		Collector:    collector,
		bridge:       websocket.NewBridge(h, authenticator),
		cancel:       cancel,
		traceCleanup: traceCleanup,
	}

	go h.Run(ctx)

	s.RegisterRoutes()
	return s, nil
}

// RegisterRoutes attaches the hub's endpoints to the echo instance.
func (s *Server) RegisterRoutes() {
	s.E.GET("/ws", s.bridge.Handler())
	s.E.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": s.Hub.Registry().Len(),
			"rooms":    s.Hub.Rooms().RoomCount(),
		})
	})
}

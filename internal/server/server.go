package server

import (
	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/routing"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Server wires the hub, the envelope dispatcher and the HTTP surface around
// a store.
type Server struct {
	cfg        Config
	hub        *Hub
	dispatcher Dispatcher
	registry   *prometheus.Registry
	origins    *originPolicy
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// New builds a Server. cfg is sanitized; a nil cfg means defaults.
func New(cfg *Config, st Store, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sanitized, rejected := sanitizeConfig(*cfg)
	for _, origin := range rejected {
		logger.Warn("Ignoring invalid origin in configuration", zap.String("origin", origin))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	presence := NewPresenceTracker(st, sanitized.StoreTimeout, logger)
	hub := NewHub(HubOptions{
		Logger:   logger,
		Metrics:  m,
		Observer: presence,
	})
	presence.Track(hub)

	dispatcher := routing.NewDispatcher(hub, st, routing.Options{
		StoreTimeout: sanitized.StoreTimeout,
		Logger:       logger,
		Metrics:      m,
	})

	s := &Server{
		cfg:        sanitized,
		hub:        hub,
		dispatcher: dispatcher,
		registry:   registry,
		origins:    newOriginPolicy(sanitized.AllowedOrigins, logger),
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

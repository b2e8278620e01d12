// Package server wires the speaker registry, its listeners and the HTTP API
// into one hub.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/kef-hub-go/internal/api"
	"github.com/strefethen/kef-hub-go/internal/audit"
	"github.com/strefethen/kef-hub-go/internal/auth"
	"github.com/strefethen/kef-hub-go/internal/config"
	"github.com/strefethen/kef-hub-go/internal/db"
	"github.com/strefethen/kef-hub-go/internal/kef"
	"github.com/strefethen/kef-hub-go/internal/mqtt"
	"github.com/strefethen/kef-hub-go/internal/openapi"
	"github.com/strefethen/kef-hub-go/internal/scheduler"
	"github.com/strefethen/kef-hub-go/internal/speakers"
	"github.com/strefethen/kef-hub-go/internal/stream"
	"github.com/strefethen/kef-hub-go/internal/system"
)

// Options controls server wiring.
type Options struct {
	Logger *log.Logger
	// SpeakerLoader replaces reading cfg.SpeakersConfigPath.
	SpeakerLoader speakers.ConfigLoader
	// Broker replaces dialing the configured MQTT broker when MQTT is enabled.
	Broker mqtt.Broker
}

// Server is a running hub.
type Server struct {
	handler   http.Handler
	logger    *log.Logger
	loader    speakers.ConfigLoader
	dbPair    *db.DBPair
	audit     *audit.Service
	night     *scheduler.NightScheduler
	registry  *speakers.Registry
	stream    *stream.Hub
	publisher *mqtt.Publisher
	system    *system.Service
}

// New opens the audit database, starts a session for every configured
// speaker and builds the HTTP handler. Speakers that cannot be reached yet
// are registered anyway and keep retrying.
func New(ctx context.Context, cfg config.Config, options Options) (*Server, error) {
	logger := options.Logger
	if logger == nil {
		logger = log.Default()
	}
	loader := options.SpeakerLoader
	if loader == nil {
		loader = func() ([]config.SpeakerConfig, error) {
			return config.LoadSpeakers(cfg.SpeakersConfigPath)
		}
	}

	speakerConfigs, err := loader()
	if err != nil {
		return nil, err
	}

	logger.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger, loader: loader, dbPair: dbPair}

	s.audit = audit.NewService(cfg, dbPair, logger)
	s.audit.StartPruneJob()

	s.night = scheduler.NewNightScheduler(logger)
	s.night.Start()

	s.registry = speakers.NewRegistry(speakers.Options{
		Timeout:         cfg.KEFTimeout(),
		LongPollTimeout: cfg.LongPollTimeout(),
		Location:        cfg.Location(),
		Night:           s.night,
		Logger:          logger,
	})
	s.registry.AddListener(s.audit)

	s.stream = stream.NewHub(s.snapshots, logger)
	s.registry.AddListener(s.stream)

	if cfg.MQTTEnabled {
		broker := options.Broker
		if broker == nil {
			client, err := mqtt.Connect(cfg)
			if err != nil {
				// The hub is still useful without MQTT.
				logger.Printf("MQTT: %v; state publishing disabled", err)
			} else {
				broker = client
				logger.Printf("MQTT: connected to %s:%d", cfg.MQTTBrokerHost, cfg.MQTTBrokerPort)
			}
		}
		if broker != nil {
			s.publisher = mqtt.NewPublisher(broker, cfg.MQTTTopicPrefix, logger)
			s.registry.AddListener(s.publisher)
		}
	}

	if _, err := s.registry.Reload(ctx, speakerConfigs); err != nil {
		_ = s.Shutdown(context.Background())
		return nil, err
	}
	s.registry.OnReload(func(result speakers.ReloadResult) {
		s.audit.RecordReload(result.Added, result.Removed, result.Restarted)
	})

	s.system = system.NewService(cfg, dbPair, logger, s.registry, s.night)

	s.recordSystemEvent(audit.EventSystemStartup, "kef-hub started")
	s.handler = s.routes(cfg)
	return s, nil
}

func (s *Server) routes(cfg config.Config) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.LoggingMiddleware(s.logger))
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	s.registerHealthRoutes(router)
	stream.RegisterRoutes(router, s.stream)
	speakers.RegisterRoutes(router, s.registry, s.loader)
	audit.RegisterRoutes(router, s.audit)
	system.RegisterRoutes(router, s.system)
	openapi.RegisterRoutes(router)
	return router
}

// Handler is the HTTP API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the speaker sessions.
func (s *Server) Registry() *speakers.Registry {
	return s.registry
}

// Reload re-reads the speakers file and applies it.
func (s *Server) Reload(ctx context.Context) (speakers.ReloadResult, error) {
	configs, err := s.loader()
	if err != nil {
		return speakers.ReloadResult{}, err
	}
	return s.registry.Reload(ctx, configs)
}

// Shutdown stops every session and background job, then closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.stream != nil {
		s.stream.Close()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	s.night.Stop()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if ctx.Err() == nil {
		s.recordSystemEvent(audit.EventSystemShutdown, "kef-hub stopped")
	}
	s.audit.StopPruneJob()
	if err := s.dbPair.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) snapshots() map[string]kef.SpeakerStatus {
	sessions := s.registry.List()
	out := make(map[string]kef.SpeakerStatus, len(sessions))
	for _, session := range sessions {
		if session.State() == speakers.StateActive {
			out[session.Key()] = session.Snapshot()
		}
	}
	return out
}

func (s *Server) recordSystemEvent(eventType audit.EventType, message string) {
	if _, err := s.audit.RecordEvent(audit.WriteEventInput{Type: eventType, Message: message}); err != nil {
		s.logger.Printf("AUDIT: %v", err)
	}
}

func (s *Server) registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		sessions := s.registry.List()
		active := 0
		for _, session := range sessions {
			if session.State() == speakers.StateActive {
				active++
			}
		}
		status := "healthy"
		if !s.audit.IsHealthy() {
			status = "degraded"
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    status,
			"service":   "kef-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"speakers": map[string]int{
				"configured": len(sessions),
				"active":     active,
			},
			"stream_clients": s.stream.Len(),
		})
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if !s.audit.IsHealthy() {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}

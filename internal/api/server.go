// Package api serves the HTTP interface: synchronous alignment, job
// submission and results, the SSE event stream, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/config"
	"github.com/snarg/scriptsync/internal/metrics"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
)

// Pool is what the server needs from the worker pool. *jobs.Pool implements it.
type Pool interface {
	JobSubmitter
	QueueReporter
}

// ServerOptions wires the server to the rest of the service. Interface fields
// left nil disable the routes or checks that need them.
type ServerOptions struct {
	Config  *config.Config
	DB      HealthChecker
	Jobs    JobStore
	Pool    Pool
	Objects storage.ObjectStore
	Events  EventSource
	MQTT    ConnState
	Watcher WatcherReporter

	Aligner *align.Aligner
	Presets subtitle.Presets

	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the chi router. It is separate from NewServer so tests
// can drive it through httptest.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	storageType := ""
	if opts.Objects != nil {
		storageType = opts.Objects.Type()
	}
	health := NewHealthHandler(HealthDeps{
		DB:      opts.DB,
		MQTT:    opts.MQTT,
		Queue:   opts.Pool,
		Watcher: opts.Watcher,
		Storage: storageType,
	}, opts.Version, opts.StartTime)

	// Health endpoint, no auth
	r.Get("/api/v1/health", health.ServeHTTP)

	// Metrics are only served when a token guards them.
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.AuthToken))
		r.Use(BearerAuth(cfg.AuthToken))
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Group(func(r chi.Router) {
			r.Use(MaxBody(int64(cfg.MaxUploadMB) << 20))
			NewAlignHandler(opts.Aligner, opts.Presets, cfg.Align.MismatchReviewRatio).Routes(r)
		})

		if opts.Jobs != nil && opts.Pool != nil && opts.Objects != nil {
			NewJobsHandler(opts.Jobs, opts.Pool, opts.Objects, opts.Presets, cfg.MaxUploadMB, opts.Log).Routes(r)
		}
		if opts.Events != nil {
			NewEventsHandler(opts.Events).Routes(r)
		}
	})

	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/config"
	"github.com/snarg/studynotes/internal/metrics"
)

const maxRequestBody = 2 << 20

// Options carries the collaborators the HTTP layer serves. MQTT and Cache
// may be nil.
type Options struct {
	Config    *config.Config
	DB        Pinger
	Store     NoteStore
	Generator Generator
	Studio    Studio
	MQTT      BrokerStatus
	Cache     CacheStatus
	Prompts   func() []string
	OpenAPI   []byte
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the full route tree.
func NewRouter(opts Options) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(UserID)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)

	// Health, metrics and API docs: no auth
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Cache, opts.Prompts, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	if len(opts.OpenAPI) > 0 {
		r.Get("/api/v1/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(opts.OpenAPI)
		})
	}

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Use(MaxBodySize(maxRequestBody))

		NewNotesHandler(opts.Store).Routes(r)

		// LLM-backed routes spend API quota; limit them per client.
		r.Group(func(r chi.Router) {
			r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
			NewGenerateHandler(opts.Generator, cfg.CORSOrigins).Routes(r)
			NewToolsHandler(opts.Store, opts.Studio).Routes(r)
		})
	})

	return r
}

func NewServer(opts Options) *Server {
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

package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/n0madic/go-turnkit/internal/config"
	"github.com/n0madic/go-turnkit/internal/history"
	"github.com/n0madic/go-turnkit/internal/orchestrator"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Runner resolves and cancels turns.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
	Cancel(turnID string) bool
	Active() []string
}

// History reads stored chat turns.
type History interface {
	List(ctx context.Context, chatID string) ([]history.Entry, error)
	LoadSummary(ctx context.Context, chatID string) (history.Summary, error)
}

// Options are the collaborators of a Server. Runner is required.
type Options struct {
	Runner   Runner
	History  History
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the HTTP surface of the turn engine.
type Server struct {
	cfg        config.ServerConfig
	runner     Runner
	history    History
	version    string
	handler    http.Handler
	httpServer *http.Server
}

// New creates a server with all routes registered.
func New(cfg config.ServerConfig, opts Options) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  opts.Runner,
		history: opts.History,
		version: opts.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(verboseMiddleware(cfg))
	r.Use(debugMiddleware(cfg))

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg))
		r.Post("/v1/turns", s.handleCreateTurn)
		r.Get("/v1/turns", s.handleListTurns)
		r.Post("/v1/turns/{id}/cancel", s.handleCancelTurn)
		r.Get("/v1/chats/{id}/history", s.handleChatHistory)
	})

	s.handler = r
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. In-flight turns are canceled first so
// their handlers can answer before the deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, id := range s.runner.Active() {
		s.runner.Cancel(id)
	}
	return s.httpServer.Shutdown(ctx)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

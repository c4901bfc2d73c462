// Package httpapi exposes configs, syncing and expenses over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/extract"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

// maxBodyBytes bounds request bodies; sync requests may carry many emails.
const maxBodyBytes = 8 << 20

// Syncer runs syncs and reports the last one.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) (*api.SyncSummary, error)
	LastSync(ctx context.Context, userID string) (time.Time, error)
}

// Config holds API server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// Location defines month boundaries. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Configs  api.ConfigStore
	Expenses api.ExpenseStore
	Engine   *extract.Engine
	Syncer   Syncer
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server and wires its routes.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: logger.With("component", "httpapi"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)
	s.router.Use(cors(CORSConfig{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
	}))
	s.router.Use(requestLogger(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/bank-email-configs", func(r chi.Router) {
			r.Get("/", s.listConfigs)
			r.Post("/", s.createConfig)
			r.Post("/test", s.testConfig)
			r.Get("/{id}", s.getConfig)
			r.Put("/{id}", s.updateConfig)
			r.Delete("/{id}", s.deleteConfig)
		})

		r.Post("/sync", s.sync)
		r.Post("/sync/auto", s.autoSync)
		r.Get("/sync/status", s.syncStatus)

		r.Get("/expenses", s.listExpenses)
	})
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual syncs can fetch a whole month of mail.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeStoreError maps store and validation errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, api.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, api.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "config not found")
	case errors.Is(err, api.ErrConfigNameTaken):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "user_id", userFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

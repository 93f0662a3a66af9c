// Package http exposes the experience engine over a JSON API: leaderboard
// reads, reward ingestion from the chat front-end, voice presence and the
// admin surface.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guild-hub/guild-xp/internal/application/command"
	"github.com/guild-hub/guild-xp/internal/application/query"
	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/domain/voice"
	"github.com/guild-hub/guild-xp/internal/infrastructure/scheduler"
	"github.com/guild-hub/guild-xp/internal/interface/http/handlers"
	"github.com/guild-hub/guild-xp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// Version is reported by the root and health endpoints.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   64 << 10,
		Version:        "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the write side of the experience engine.
type Engine interface {
	RecordAction(principal shared.PrincipalID, action experience.ActionType) error
	Flush(ctx context.Context) (command.FlushResult, error)
	Settings() experience.Settings

	AddExperienceDirect(ctx context.Context, principal shared.PrincipalID, amount float64) (experience.Record, error)
	AddExperienceLevels(ctx context.Context, principal shared.PrincipalID, levels int) (experience.Record, error)
	SetExperience(ctx context.Context, principal shared.PrincipalID, xp float64) (experience.Record, error)
	SetExperienceLevel(ctx context.Context, principal shared.PrincipalID, level int) (experience.Record, error)
	UpdateLevelCurve(ctx context.Context, scalar, power *float64, maintainLevel bool) (command.CurveMigrationResult, error)

	SetReward(ctx context.Context, action experience.ActionType, amount float64) (experience.Settings, error)
	SetGainCap(ctx context.Context, gainCap float64) (experience.Settings, error)
	SetAnnounceChannel(ctx context.Context, channel *shared.ChannelID) (experience.Settings, error)
}

// Rules manages role scalar and autorole rules.
type Rules interface {
	AssignScalar(ctx context.Context, role shared.RoleID, scalar float64, priority int) (rolescalar.Rule, error)
	ModifyScalar(ctx context.Context, role shared.RoleID, patch rolescalar.Patch) error
	RemoveScalar(ctx context.Context, role shared.RoleID) error
	ListScalars(ctx context.Context) ([]rolescalar.Rule, error)

	CreateAutorole(ctx context.Context, role shared.RoleID, assignAt, removeAt int) (autorole.Rule, error)
	ModifyAutorole(ctx context.Context, role shared.RoleID, patch autorole.Patch) error
	RemoveAutorole(ctx context.Context, role shared.RoleID) error
	ListAutoroles(ctx context.Context) ([]autorole.Rule, error)
}

// Leaderboard is the read side.
type Leaderboard interface {
	Top(ctx context.Context, n int) (query.LeaderboardPage, error)
	Around(ctx context.Context, principal shared.PrincipalID, n int) (query.LeaderboardPage, error)
	MemberInfo(ctx context.Context, principal shared.PrincipalID) (query.MemberInfo, error)
}

// JobLister reports scheduled jobs.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Engine      Engine
	Rules       Rules
	Leaderboard Leaderboard
	Voice       voice.Presence

	// Jobs is optional; nil when the scheduler is disabled.
	Jobs JobLister

	Health *handlers.HealthChecker
	Admin  *handlers.AdminAuth

	// Features is reported by the root endpoint.
	Features map[string]bool

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthChecker(config.Version)
	}
	if deps.Admin == nil {
		deps.Admin = handlers.NewAdminAuth("")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With("component", "http"),
		now:    time.Now,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Addr,
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router wrapped in middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	h = s.requestIDMiddleware(h)
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/v1/leaderboard", s.handleLeaderboard)
	s.router.HandleFunc("GET /api/v1/members/{id}", s.handleMember)
	s.router.HandleFunc("GET /api/v1/members/{id}/around", s.handleAround)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Ingestion from the chat front-end
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/actions", s.handleRecordActions)
	s.router.HandleFunc("GET /api/v1/voice", s.handleVoicePresent)
	s.router.HandleFunc("POST /api/v1/voice/{id}/join", s.handleVoiceJoin)
	s.router.HandleFunc("POST /api/v1/voice/{id}/leave", s.handleVoiceLeave)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Admin
	// ─────────────────────────────────────────────────────────────────────────
	admin := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, s.deps.Admin.Middleware(s.denied, h))
	}
	admin("GET /api/v1/admin/settings", s.handleGetSettings)
	admin("PUT /api/v1/admin/settings/rewards/{action}", s.handleSetReward)
	admin("PUT /api/v1/admin/settings/gain-cap", s.handleSetGainCap)
	admin("PUT /api/v1/admin/settings/announce-channel", s.handleSetAnnounceChannel)
	admin("PUT /api/v1/admin/curve", s.handleUpdateCurve)

	admin("POST /api/v1/admin/members/{id}/experience", s.handleAddExperience)
	admin("PUT /api/v1/admin/members/{id}/experience", s.handleSetExperience)
	admin("POST /api/v1/admin/members/{id}/levels", s.handleAddLevels)
	admin("PUT /api/v1/admin/members/{id}/level", s.handleSetLevel)

	admin("GET /api/v1/admin/scalars", s.handleListScalars)
	admin("POST /api/v1/admin/scalars", s.handleAssignScalar)
	admin("PATCH /api/v1/admin/scalars/{role}", s.handleModifyScalar)
	admin("DELETE /api/v1/admin/scalars/{role}", s.handleRemoveScalar)

	admin("GET /api/v1/admin/autoroles", s.handleListAutoroles)
	admin("POST /api/v1/admin/autoroles", s.handleCreateAutorole)
	admin("PATCH /api/v1/admin/autoroles/{role}", s.handleModifyAutorole)
	admin("DELETE /api/v1/admin/autoroles/{role}", s.handleRemoveAutorole)

	admin("POST /api/v1/admin/flush", s.handleFlush)
	admin("GET /api/v1/admin/jobs", s.handleListJobs)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestIDMiddleware tags the request and its logger with an id.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithRequestID(ctx, s.logger, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		level := slog.LevelDebug
		if rw.statusCode >= 500 {
			level = slog.LevelWarn
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					"error", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)
				s.writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) denied(w http.ResponseWriter, r *http.Request, status int) {
	if status == http.StatusForbidden {
		s.writeJSONError(w, r, status, "admin_disabled", "admin API is not configured")
		return
	}
	s.writeJSONError(w, r, status, "unauthorized", "a valid admin token is required")
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.write(w, r, status, JSONResponse{Success: status < 400, Data: data})
}

func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.write(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, resp JSONResponse) {
	resp.Meta = &ResponseMeta{Timestamp: s.now().UTC(), Version: s.config.Version}
	resp.RequestID = getRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError maps domain error kinds onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		s.writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsConflict(err):
		s.writeJSONError(w, r, http.StatusConflict, "conflict", err.Error())
	case shared.IsNotFound(err):
		s.writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		s.writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

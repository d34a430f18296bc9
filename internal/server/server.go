package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaenox/carebot/internal/auth"
	"github.com/xaenox/carebot/internal/companion"
	"github.com/xaenox/carebot/internal/guidance"
	"github.com/xaenox/carebot/internal/metrics"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/topics"
	"github.com/xaenox/carebot/internal/trauma"
	"go.uber.org/zap"
)

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server exposes the companion over HTTP
type Server struct {
	companion  *companion.Orchestrator
	guard      *trauma.Guard
	tracker    *topics.Tracker
	guidance   *guidance.Retriever
	tokens     *auth.TokenStore
	handler    http.Handler
	httpServer *http.Server
	startTime  time.Time
	logger     *zap.Logger
}

// Deps wires the server to the domain. Tokens may be nil to disable auth.
type Deps struct {
	Companion *companion.Orchestrator
	Guard     *trauma.Guard
	Tracker   *topics.Tracker
	Guidance  *guidance.Retriever
	Tokens    *auth.TokenStore
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		companion: deps.Companion,
		guard:     deps.Guard,
		tracker:   deps.Tracker,
		guidance:  deps.Guidance,
		tokens:    deps.Tokens,
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/guidance", s.guidanceHandler)

	if s.tokens != nil {
		mux.HandleFunc("POST /api/auth/tokens", s.issueTokenHandler)
	}

	mux.Handle("POST /api/turns", s.protected(s.turnHandler))
	mux.Handle("GET /api/users/{userId}/messages", s.protected(s.messagesHandler))
	mux.Handle("POST /api/users/{userId}/photo-sessions", s.protected(s.startPhotoHandler))
	mux.Handle("GET /api/users/{userId}/photo-sessions/active", s.protected(s.activePhotoHandler))
	mux.Handle("DELETE /api/users/{userId}/photo-sessions/active", s.protected(s.endPhotoHandler))
	mux.Handle("GET /api/users/{userId}/trauma", s.protected(s.getTraumaHandler))
	mux.Handle("PUT /api/users/{userId}/trauma", s.protected(s.saveTraumaHandler))
	mux.Handle("DELETE /api/users/{userId}/trauma", s.protected(s.deleteTraumaHandler))
	mux.Handle("POST /api/users/{userId}/trauma/check", s.protected(s.checkTraumaHandler))
	mux.Handle("GET /api/users/{userId}/topics", s.protected(s.topicsHandler))
	mux.Handle("GET /api/users/{userId}/topics/effectiveness", s.protected(s.effectivenessHandler))
	mux.Handle("POST /api/users/{userId}/sessions/end", s.protected(s.endSessionHandler))
	mux.Handle("GET /api/users/{userId}/reports", s.protected(s.reportsHandler))
	mux.Handle("GET /api/reports/{reportId}", s.protected(s.reportHandler))

	s.handler = s.instrument(mux)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// protected requires a bearer token when auth is enabled
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	if s.tokens == nil {
		return h
	}
	return auth.Middleware(s.tokens, s.logger)(h)
}

// authorized reports whether the caller may act for userID
func (s *Server) authorized(r *http.Request, userID string) bool {
	if s.tokens == nil {
		return true
	}
	caller, ok := auth.UserFromContext(r.Context())
	return ok && caller == userID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		upstream   *models.UpstreamServiceError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound.Error()})
	case errors.As(err, &upstream):
		s.logger.Error("Upstream service failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream service unavailable"})
	default:
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.NewValidationError("body", "invalid JSON")
	}
	return nil
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, models.NewValidationError("limit", "must be a positive integer")
	}
	return limit, nil
}

func splitKeywords(raw string) []string {
	var out []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

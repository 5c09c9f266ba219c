// Package relay implements the chat relay: the only process component that
// holds the upstream API credential. It accepts a conversation history,
// prepends the clinic system prompt, forwards the combined list upstream,
// and returns the reply or a normalized error. Each request is stateless;
// the full history arrives from the caller every time.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"belezabot/internal/domain"
	"belezabot/internal/metrics"
	"belezabot/internal/persona"
	"belezabot/internal/provider"
	"belezabot/internal/usage"
)

const maxBodySize = 1 << 20 // 1MB

// Error texts for the normalized failure classes. The not-configured text is
// deliberately distinct from runtime upstream failures so operators can tell
// a broken deployment from a rejected request.
const (
	errNoMessages       = "No messages provided"
	errInvalidBody      = "Invalid request body"
	errKeyNotConfigured = "OpenAI API key not configured on server"
	errKeyInvalid       = "OpenAI API key is invalid. Check your credentials."
	errRateLimited      = "Rate limit exceeded. Try again in a moment."
	errInternal         = "Internal server error"
)

// Server is the relay HTTP server.
type Server struct {
	host                 string
	port                 int
	completer            domain.Completer
	persona              *persona.Persona
	credentialConfigured bool
	environment          string
	version              string
	metricsEndpoint      string // empty disables the endpoint
	usage                *usage.Store
	logger               *slog.Logger

	server    *http.Server
	startTime time.Time
}

type ServerConfig struct {
	Host                 string
	Port                 int
	Completer            domain.Completer
	Persona              *persona.Persona
	CredentialConfigured bool
	Environment          string
	Version              string
	MetricsEndpoint      string
	Usage                *usage.Store
	Logger               *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3001
	}
	if cfg.Persona == nil {
		cfg.Persona = persona.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:                 cfg.Host,
		port:                 cfg.Port,
		completer:            cfg.Completer,
		persona:              cfg.Persona,
		credentialConfigured: cfg.CredentialConfigured,
		environment:          cfg.Environment,
		version:              cfg.Version,
		metricsEndpoint:      cfg.MetricsEndpoint,
		usage:                cfg.Usage,
		logger:               cfg.Logger,
		startTime:            time.Now(),
	}
}

// Handler builds the route table. Exposed separately from Start so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metricsEndpoint != "" {
		mux.HandleFunc("GET "+s.metricsEndpoint, metrics.Collector.Handler())
	}
	return s.recoverPanics(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info("chat relay started",
		"addr", "http://"+addr,
		"environment", s.environment,
		"credentialConfigured", s.credentialConfigured,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleChat(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ChatRequestsTotal.Inc()

	var req domain.ChatRequest
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(rw, http.StatusBadRequest, errInvalidBody)
		s.record(len(req.Messages), usage.OutcomeInvalidRequest, start)
		return
	}

	if len(req.Messages) == 0 {
		s.respondError(rw, http.StatusBadRequest, errNoMessages)
		s.record(0, usage.OutcomeInvalidRequest, start)
		return
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			s.respondError(rw, http.StatusBadRequest, fmt.Sprintf("Invalid role: %s", m.Role))
			s.record(len(req.Messages), usage.OutcomeInvalidRequest, start)
			return
		}
	}

	if !s.credentialConfigured {
		s.respondError(rw, http.StatusInternalServerError, errKeyNotConfigured)
		s.record(len(req.Messages), usage.OutcomeNotConfigured, start)
		return
	}

	// The fixed system message is always first, regardless of what the
	// caller supplied.
	combined := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	combined = append(combined, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: s.persona.RenderSystemPrompt(),
	})
	combined = append(combined, req.Messages...)

	reply, err := s.completer.Complete(r.Context(), combined)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		status, text, outcome := classifyUpstreamError(err)
		s.logger.Error("upstream call failed", "status", status, "err", err)
		s.respondError(rw, status, text)
		s.record(len(req.Messages), outcome, start)
		return
	}

	metrics.ChatSuccessTotal.Inc()
	s.logger.Info("chat response generated", "chars", len(reply), "history", len(req.Messages))
	s.respondJSON(rw, http.StatusOK, domain.ChatResponse{Success: true, Message: reply})
	s.record(len(req.Messages), usage.OutcomeSuccess, start)
}

// classifyUpstreamError maps a Completer error onto the response status,
// user-facing text, and usage outcome.
func classifyUpstreamError(err error) (int, string, string) {
	switch {
	case errors.Is(err, provider.ErrInvalidAPIKey):
		metrics.UpstreamAuthErrors.Inc()
		return http.StatusUnauthorized, errKeyInvalid, usage.OutcomeAuthError
	case errors.Is(err, provider.ErrRateLimited):
		metrics.UpstreamRateLimits.Inc()
		return http.StatusTooManyRequests, errRateLimited, usage.OutcomeRateLimited
	default:
		metrics.UpstreamFailures.Inc()
		var ue *provider.UpstreamError
		if errors.As(err, &ue) && ue.Message != "" {
			return http.StatusInternalServerError, ue.Message, usage.OutcomeUpstreamError
		}
		return http.StatusInternalServerError, err.Error(), usage.OutcomeUpstreamError
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	s.respondJSON(rw, http.StatusOK, domain.HealthStatus{
		OK:                   true,
		Timestamp:            time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds:        time.Since(s.startTime).Seconds(),
		CredentialConfigured: s.credentialConfigured,
		Environment:          s.environment,
		Version:              s.version,
	})
}

func (s *Server) respondJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) respondError(rw http.ResponseWriter, status int, text string) {
	s.respondJSON(rw, status, domain.ChatResponse{Success: false, Error: text})
}

func (s *Server) record(messageCount int, outcome string, start time.Time) {
	if s.usage == nil {
		return
	}
	// Background context: accounting must survive client disconnects.
	s.usage.Record(context.Background(), usage.Entry{
		Channel:      "api",
		MessageCount: messageCount,
		Outcome:      outcome,
		LatencyMs:    time.Since(start).Milliseconds(),
	})
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address. The proxy holds the API
	// key, so it only listens on loopback unless told otherwise.
	DefaultAddr = "127.0.0.1:8787"

	// DefaultMaxBodyBytes bounds request bodies. Images travel as data URIs,
	// so this is generous.
	DefaultMaxBodyBytes = 20 << 20

	// Version is reported by the health endpoint.
	Version = "0.3.0"
)

// Error messages returned to clients.
const (
	msgMessagesRequired = "Messages array is required"
	msgModelRequired    = "Valid model is required"
	msgInternal         = "Internal server error"
)

// ============================================================================
// SERVER
// ============================================================================

// Connectivity reports whether the host currently has a network path.
// *offline.Monitor satisfies it.
type Connectivity interface {
	IsOnline() bool
}

// Options configures a Server.
type Options struct {
	Addr         string
	MaxBodyBytes int64
	Logger       *log.Logger
}

// Server exposes the completion client over a small local HTTP API.
type Server struct {
	addr         string
	maxBodyBytes int64

	client cloud.Completer
	net    Connectivity
	log    *log.Logger

	router chi.Router

	mu     sync.Mutex
	server *http.Server
}

// New creates a server that answers chat requests with client. conn may be
// nil, in which case /health always reports online.
func New(client cloud.Completer, conn Connectivity, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		addr:         opts.Addr,
		maxBodyBytes: opts.MaxBodyBytes,
		client:       client,
		net:          conn,
		log:          opts.Logger.WithPrefix("server"),
	}
	s.setupRoutes()
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(RecoveryMiddleware(s.log))
	r.Use(LoggingMiddleware(s.log))
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/models", s.handleModels)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router = r
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// chatBody is decoded in two steps so a non-array "messages" field can be
// told apart from a malformed body.
type chatBody struct {
	Messages json.RawMessage `json:"messages"`
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
}

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.maxBodyBytes))
			return
		}
		s.log.Debug("invalid request body", "err", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	turns, ok := decodeMessages(body.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, msgMessagesRequired)
		return
	}
	if body.Model == "" || !model.IsValid(body.Model) {
		writeError(w, http.StatusBadRequest, msgModelRequired)
		return
	}

	req := cloud.Request{Messages: turns, Model: body.Model}
	if body.Stream {
		s.streamChat(w, r, req)
		return
	}

	resp, err := s.client.Complete(r.Context(), req)
	if err != nil {
		s.log.Warn("completion failed", "model", req.Model, "request_id", chimiddleware.GetReqID(r.Context()), "err", err)
		writeError(w, statusFor(err), errorText(err))
		return
	}

	writeJSON(w, http.StatusOK, cloud.ProxyResponse{Content: resp.Content, Usage: resp.Usage})
}

// decodeMessages accepts a non-empty array of turns with known roles.
func decodeMessages(raw json.RawMessage) ([]cloud.Turn, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var turns []cloud.Turn
	if err := json.Unmarshal(raw, &turns); err != nil || len(turns) == 0 {
		return nil, false
	}
	for _, t := range turns {
		if !t.Role.Valid() {
			return nil, false
		}
	}
	return turns, true
}

// streamChat relays the reply as server-sent events:
//
//	data: {"content":"..."}
//	data: [DONE]
//
// Once headers are out a failure can only be reported in-band, as a single
// data: {"error":"..."} record followed by closing the stream.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req cloud.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	done := func() {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	var err error
	if sc, ok := s.client.(cloud.StreamCompleter); ok {
		err = sc.CompleteStreaming(r.Context(), req, func(chunk string) {
			send(streamRecord{Content: chunk})
		}, done)
	} else {
		var resp *cloud.Response
		if resp, err = s.client.Complete(r.Context(), req); err == nil {
			send(streamRecord{Content: resp.Content})
			done()
		}
	}

	if err != nil {
		s.log.Warn("stream failed", "model", req.Model, "request_id", chimiddleware.GetReqID(r.Context()), "err", err)
		send(streamRecord{Error: errorText(err)})
	}
}

// streamRecord is one SSE payload.
type streamRecord struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusFor maps completion errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cloud.ErrInvalidModel), errors.Is(err, cloud.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorText is the message relayed to clients for a failed completion.
func errorText(err error) string {
	switch {
	case errors.Is(err, cloud.ErrInvalidModel):
		return msgModelRequired
	case errors.Is(err, cloud.ErrInvalidInput):
		return msgMessagesRequired
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	}
	if ue, ok := cloud.IsUpstream(err); ok {
		return ue.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgInternal
}

// ============================================================================
// MODELS / HEALTH
// ============================================================================

// ModelsResponse lists the model catalog.
type ModelsResponse struct {
	Models  []model.Descriptor `json:"models"`
	Default string             `json:"default"`
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  model.Catalog(),
		Default: model.DefaultModel,
	})
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status     string `json:"status"`
	Online     bool   `json:"online"`
	Configured bool   `json:"configured"`
	Version    string `json:"version"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:     "ok",
		Online:     true,
		Configured: true,
		Version:    Version,
	}
	if s.net != nil {
		health.Online = s.net.IsOnline()
	}
	if c, ok := s.client.(interface{ IsConfigured() bool }); ok {
		health.Configured = c.IsConfigured()
	}
	if !health.Online || !health.Configured {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: streamed replies can run for minutes.
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String(), "version", Version)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.log.Info("shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": "..."} payload shared by every endpoint.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

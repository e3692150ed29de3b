// Package gateway exposes the session store and sync coordinator over HTTP:
// JSON endpoints for session operations and event broadcast, plus a
// WebSocket feed of dispatched events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tabsync/internal/coordinator"
	"github.com/roach88/tabsync/internal/session"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = "127.0.0.1:8344"

// shutdownGrace bounds how long Run waits for in-flight requests after its
// context is cancelled.
const shutdownGrace = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Sessions serves the /v1/session endpoints. Required.
	Sessions *session.Store

	// Coordinator serves /v1/events and /v1/tabs. Required.
	Coordinator *coordinator.Coordinator

	Logger *slog.Logger
}

// Server is the HTTP/WebSocket gateway.
type Server struct {
	sessions *session.Store
	coord    *coordinator.Coordinator
	logger   *slog.Logger
	feed     *feed
	http     *http.Server
}

// New creates a Server. Wire the returned server's HandleEvent as (or into)
// the coordinator handler so dispatched events reach WebSocket subscribers.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("gateway: session store is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("gateway: coordinator is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		sessions: opts.Sessions,
		coord:    opts.Coordinator,
		logger:   opts.Logger,
		feed:     newFeed(opts.Logger),
	}
	s.http = &http.Server{
		Addr:    opts.Addr,
		Handler: s.Router(),
	}
	return s, nil
}

// Router builds the route table. Exposed separately so tests can mount the
// gateway on httptest servers.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/session", s.handleSessionState).Methods(http.MethodGet)
	v1.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/session/signup", s.handleSignup).Methods(http.MethodPost)
	v1.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)
	v1.HandleFunc("/session/refresh", s.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/session/profile", s.handleUpdateProfile).Methods(http.MethodPatch)
	v1.HandleFunc("/session/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleBroadcast).Methods(http.MethodPost)
	v1.HandleFunc("/events/ws", s.handleEventFeed).Methods(http.MethodGet)
	v1.HandleFunc("/tabs", s.handleTabs).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("gateway listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		s.feed.closeAll()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"origin_id":        s.coord.OriginID(),
		"active_tab_count": s.coord.ActiveTabCount(),
		"online":           s.coord.IsOnline(),
	})
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeAuthError maps session error codes onto HTTP statuses.
func writeAuthError(w http.ResponseWriter, err error) {
	code := session.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case session.ErrCodeInvalidCredentials, session.ErrCodeNoUser:
		status = http.StatusUnauthorized
	case session.ErrCodeInvalidProfile:
		status = http.StatusBadRequest
	case session.ErrCodeAuthInProgress:
		status = http.StatusConflict
	case session.ErrCodeProvider:
		status = http.StatusBadGateway
	}

	writeError(w, status, string(code), err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

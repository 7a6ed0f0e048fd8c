// Package tokenserver exposes the provider chain over HTTP as a small token
// service, the peer the api provider talks to. It lets one machine that can
// perform browser logins serve tokens to others that cannot.
package tokenserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/drivelane/reyrey-auth/internal/auth"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// Server serves token lookups and stores backed by an auth.Manager.
type Server struct {
	manager *auth.Manager
	mux     *http.ServeMux
	server  *http.Server
}

// Compile-time check that Server implements http.Handler.
var _ http.Handler = (*Server)(nil)

// New creates a token server over the given manager.
func New(manager *auth.Manager) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("missing manager")
	}

	s := &Server{manager: manager}

	logger := slog.Default()

	mux := http.NewServeMux()
	mux.Handle("GET /current_token", applyMiddlewares(http.HandlerFunc(s.handleGetToken),
		RequestID,
		Logging(logger),
		Recovery,
	))
	mux.Handle("POST /current_token", applyMiddlewares(http.HandlerFunc(s.handleSaveToken),
		RequestID,
		Logging(logger),
		Recovery,
	))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.mux = mux
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// envelope is the wire format shared with the api provider.
type envelope struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Token   *tokenstore.Token `json:"token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleGetToken resolves the requested token through the provider chain.
// The login fallback is never triggered server-side; a remote caller asking
// for a token must not spawn a browser on this machine.
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tokenName := r.URL.Query().Get("token_name")

	token, err := s.manager.Token(r.Context(), auth.TokenOptions{
		TokenName:      tokenName,
		LoginIfMissing: false,
	})
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) || errors.Is(err, tokenstore.ErrTokenNotFound) {
			writeJSON(w, http.StatusNotFound, envelope{Success: false, Error: "no valid token"})
			return
		}
		slog.ErrorContext(r.Context(), "token lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "token lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Token: &token})
}

// handleSaveToken persists a token posted by a remote client.
func (s *Server) handleSaveToken(w http.ResponseWriter, r *http.Request) {
	var token tokenstore.Token
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&token); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "malformed token document"})
		return
	}
	if token.IsZero() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "empty token"})
		return
	}

	if err := s.manager.SaveToken(r.Context(), token); err != nil {
		slog.ErrorContext(r.Context(), "token save failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "token save failed"})
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Token: &token})
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error
// channel. The caller is responsible for calling Shutdown() to stop the
// server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: create the listener synchronously to catch port-in-use
	// errors immediately.
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

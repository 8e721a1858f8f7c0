// Package proxy serves a local HTTP endpoint that forwards requests to the
// platform API through the session transport, so tools without credential
// handling can talk to the API as the logged-in user.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/florianilch/glimpse/internal/session"
)

// HealthPath is served by the proxy itself and never forwarded.
const HealthPath = "/_glimpse/health"

// DefaultLoginHint tells clients how to start a new session.
const DefaultLoginHint = "run `glimpse login`"

// Option configures a Proxy.
type Option func(*config)

type config struct {
	baseURL    string
	loginHint  string
	hasSession func() bool
}

// WithBaseURL sets the upstream API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithLoginHint sets the hint returned with session expired errors.
func WithLoginHint(hint string) Option {
	return func(c *config) {
		c.loginHint = hint
	}
}

// WithSessionCheck reports session presence on the health endpoint.
func WithSessionCheck(hasSession func() bool) Option {
	return func(c *config) {
		c.hasSession = hasSession
	}
}

// Proxy represents the local session proxy server
type Proxy struct {
	mux        *http.ServeMux
	server     *http.Server
	loginHint  string
	hasSession func() bool
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a proxy that forwards every request upstream via transport.
func New(transport http.RoundTripper, opts ...Option) (*Proxy, error) {
	if transport == nil {
		return nil, fmt.Errorf("missing transport")
	}

	cfg := &config{loginHint: DefaultLoginHint}
	for _, opt := range opts {
		opt(cfg)
	}

	upstream, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", cfg.baseURL)
	}

	p := &Proxy{
		loginHint:  cfg.loginHint,
		hasSession: cfg.hasSession,
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			// Credentials come from the session, never from the local client.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		// FlushInterval: -1 flushes only when the upstream flushes.
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  p.handleError,
	}

	logger := slog.Default()

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, p.handleHealth)
	mux.Handle("/", applyMiddlewares(reverseProxyHandler,
		RequestID,
		Logging(logger),
		Recovery,
	))
	p.mux = mux

	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// HealthResponse reports proxy liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Session bool   `json:"session"`
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if p.hasSession != nil {
		resp.Session = p.hasSession()
	}
	writeJSON(r.Context(), w, resp, http.StatusOK)
}

// handleError maps transport failures to JSON responses.
func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, session.ErrSessionExpired):
		slog.WarnContext(ctx, "session expired", "path", r.URL.Path, "error", err)
		writeJSON(ctx, w, ErrorResponse{Error: "session expired", Login: p.loginHint}, http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// Client went away, nobody reads the response.
		slog.DebugContext(ctx, "request canceled", "path", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "upstream request failed", "path", r.URL.Path, "error", err)
		writeJSONError(ctx, w, "upstream request failed", http.StatusBadGateway)
	}
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // media uploads
		WriteTimeout:      5 * time.Minute, // includes time parked behind a refresh
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

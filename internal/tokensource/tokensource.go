package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/florianilch/glimpse/internal/credentials"
)

// DefaultTimeout bounds a refresh call. It matches the timeout of any other API request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody limits how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	// Refresh returns the new access token and, when the server rotated it,
	// the new refresh token. RefreshToken is empty when no rotation happened.
	Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error)
}

// Option configures a Refresher.
type Option func(*refresherConfig)

// refresherConfig holds configuration shared by all refreshers.
type refresherConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	jsonEncoding  bool
}

// WithTransport sets a custom base transport for token refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *refresherConfig) {
		c.timeout = timeout
	}
}

// WithJSONEncoding sends OAuth2 refresh requests JSON-encoded instead of form-encoded.
// Ignored by JSONRefresher, which always speaks JSON.
func WithJSONEncoding() Option {
	return func(c *refresherConfig) {
		c.jsonEncoding = true
	}
}

func newRefresherConfig(opts []Option) *refresherConfig {
	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// JSONRefresher calls the platform's refresh endpoint.
type JSONRefresher struct {
	refreshURL string
	client     *http.Client
}

// Compile-time check to ensure JSONRefresher implements Refresher
var _ Refresher = (*JSONRefresher)(nil)

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// NewJSONRefresher creates a JSONRefresher posting to refreshURL.
func NewJSONRefresher(refreshURL string, opts ...Option) (*JSONRefresher, error) {
	if _, err := url.ParseRequestURI(refreshURL); err != nil {
		return nil, fmt.Errorf("invalid refresh URL: %w", err)
	}

	cfg := newRefresherConfig(opts)
	return &JSONRefresher{
		refreshURL: refreshURL,
		client: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
	}, nil
}

// Refresh posts the refresh token and decodes the new credentials.
func (r *JSONRefresher) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	body, err := json.Marshal(refreshRequest{Token: refreshToken})
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("marshaling refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, bytes.NewReader(body))
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return credentials.Pair{}, &RefreshError{StatusCode: resp.StatusCode, Body: data}
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return credentials.Pair{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if out.Token == "" {
		return credentials.Pair{}, fmt.Errorf("refresh response has no token")
	}

	return credentials.Pair{
		AccessToken:  out.Token,
		RefreshToken: out.RefreshToken,
	}, nil
}

// tokenRefreshTransport converts oauth2's form-encoded token refresh requests
// to JSON for token endpoints that only accept JSON.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRefreshTransport)(nil)

// RoundTrip intercepts token refresh requests and converts them from form-encoded to JSON.
func (t *tokenRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// We consume the body entirely and forward a new one, so closing is ours to do.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // RFC 6749 parameters are single-valued
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}

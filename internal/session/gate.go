package session

import (
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/florianilch/glimpse/internal/credentials"
)

// RequestIDHeader correlates a request with its replay in server and client logs.
const RequestIDHeader = "X-Request-Id"

// TokenReader returns the current credentials without I/O.
type TokenReader interface {
	Get() credentials.Pair
}

// Gate is an http.RoundTripper that attaches the current access token to every
// request. It never refreshes. Manager.Transport hands out a Gate when the
// session has no refresher, e.g. for static tokens read from the environment.
type Gate struct {
	Tokens TokenReader
	Base   http.RoundTripper
}

// Compile-time check that Gate implements http.RoundTripper.
var _ http.RoundTripper = (*Gate)(nil)

// RoundTrip implements http.RoundTripper interface.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	base := g.Base
	if base == nil {
		base = http.DefaultTransport
	}

	out := req.Clone(req.Context())
	prepare(out, g.Tokens.Get().AccessToken, "")
	return base.RoundTrip(out)
}

// prepare attaches the bearer token and default headers to an outgoing request.
// The request must be a private clone.
func prepare(req *http.Request, token, requestID string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if req.Header.Get(RequestIDHeader) == "" {
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.Header.Set(RequestIDHeader, requestID)
	}

	if req.Body == nil || req.Body == http.NoBody {
		return
	}
	// Multipart bodies carry their boundary in the content type; never replace it.
	if isMultipart(req.Header.Get("Content-Type")) {
		return
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

func isMultipart(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "multipart/")
	}
	return strings.HasPrefix(mediaType, "multipart/")
}

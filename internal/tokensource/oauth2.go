package tokensource

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/florianilch/glimpse/internal/credentials"
)

// OAuth2Endpoint returns an endpoint for a public client that sends its
// client ID in the request body.
func OAuth2Endpoint(tokenURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuth2Refresher performs a standard refresh_token grant.
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

// Compile-time check to ensure OAuth2Refresher implements Refresher
var _ Refresher = (*OAuth2Refresher)(nil)

// NewOAuth2Refresher creates an OAuth2Refresher for a public client (no secret).
func NewOAuth2Refresher(endpoint oauth2.Endpoint, clientID string, opts ...Option) (*OAuth2Refresher, error) {
	if endpoint.TokenURL == "" {
		return nil, fmt.Errorf("missing token URL")
	}
	if clientID == "" {
		return nil, fmt.Errorf("missing client ID")
	}

	cfg := newRefresherConfig(opts)

	transport := cfg.baseTransport
	if cfg.jsonEncoding {
		transport = &tokenRefreshTransport{base: cfg.baseTransport}
	}

	return &OAuth2Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: "", // Public client
			Endpoint:     endpoint,
		},
		client: &http.Client{
			Timeout:   cfg.timeout,
			Transport: transport,
		},
	}, nil
}

// Refresh exchanges refreshToken at the token endpoint.
func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	// oauth2 picks up custom HTTP clients via the context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	// An empty access token is never valid, so Token() always hits the endpoint.
	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return credentials.Pair{}, &RefreshError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       retrieveErr.Body,
			}
		}
		return credentials.Pair{}, fmt.Errorf("oauth2 refresh failed: %w", err)
	}

	pair := credentials.Pair{AccessToken: token.AccessToken}
	// oauth2 echoes the old refresh token when the server omits one.
	if token.RefreshToken != refreshToken {
		pair.RefreshToken = token.RefreshToken
	}
	return pair, nil
}

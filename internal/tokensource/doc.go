// Package tokensource performs the network call that exchanges a refresh token
// for a new access token.
//
// Two wire protocols are supported:
//   - JSON: the platform's own endpoint, {"token": refresh} -> {"token": access, "refreshToken"?: refresh}
//   - OAuth2: a standard refresh_token grant, optionally JSON-encoded for servers that reject forms
//
// # Refreshers
//
//	r, err := tokensource.NewJSONRefresher("https://api.example.com/auth/refresh")
//	pair, err := r.Refresh(ctx, refreshToken)
//	// pair.RefreshToken is empty when the server did not rotate it
//
// # Custom Base Transport
//
// Configure a custom base transport for refresh requests (e.g., for proxies or custom timeouts):
//
//	r, err := tokensource.NewOAuth2Refresher(
//		tokensource.OAuth2Endpoint(tokenURL),
//		clientID,
//		tokensource.WithTransport(customTransport),
//		tokensource.WithJSONEncoding(),
//	)
//
// The base transport must not be the session transport: refresh requests carry
// the refresh token, never the access token.
package tokensource

// Package session keeps outgoing API requests authenticated.
//
// Every request passes through the gate, which attaches the current access
// token. When the API answers 401, the Manager refreshes the session exactly
// once no matter how many requests failed concurrently, then replays each
// failed request a single time with the new token, in the order the failures
// arrived. If the session cannot be refreshed, the Terminator clears the
// stored credentials and signals the user to log in again.
//
//	mgr, err := session.NewManager(store, refresher, session.WithNavigator(nav, true))
//	client := &http.Client{Transport: mgr.Transport()}
package session

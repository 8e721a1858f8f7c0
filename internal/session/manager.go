package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/florianilch/glimpse/internal/credentials"
	"github.com/florianilch/glimpse/internal/tokensource"
)

// maxDiscard bounds how much of a rejected response body is drained before replay.
const maxDiscard = 4 << 10

// Option configures a Manager.
type Option func(*Manager)

// WithBaseTransport sets the transport requests are sent with.
// If not provided, http.DefaultTransport is used.
func WithBaseTransport(base http.RoundTripper) Option {
	return func(m *Manager) {
		m.base = base
	}
}

// WithRecoverStatuses sets the response statuses treated as a stale access
// token. Defaults to 401 only.
func WithRecoverStatuses(statuses ...int) Option {
	return func(m *Manager) {
		m.recoverStatuses = make(map[int]bool, len(statuses))
		for _, status := range statuses {
			m.recoverStatuses[status] = true
		}
	}
}

// WithRotation controls whether a refresh token returned by the refresh call
// replaces the stored one. Defaults to true.
func WithRotation(rotate bool) Option {
	return func(m *Manager) {
		m.rotate = rotate
	}
}

// WithNavigator sets who is signaled when the session ends. Navigation only
// happens when interactive is true.
func WithNavigator(navigator Navigator, interactive bool) Option {
	return func(m *Manager) {
		m.navigator = navigator
		m.interactive = interactive
	}
}

// Manager coordinates credential refresh for all requests sharing a session.
// At most one refresh call is in flight; requests failing meanwhile wait for
// its outcome instead of starting their own.
type Manager struct {
	store      *credentials.Store
	refresher  tokensource.Refresher
	terminator *Terminator

	base            http.RoundTripper
	recoverStatuses map[int]bool
	rotate          bool
	navigator       Navigator
	interactive     bool

	mu         sync.Mutex
	refreshing bool
	queue      []*waiter
}

// NewManager creates a Manager. A nil refresher disables refresh: stale-token
// responses are returned to the caller unchanged.
func NewManager(store *credentials.Store, refresher tokensource.Refresher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	m := &Manager{
		store:           store,
		refresher:       refresher,
		base:            http.DefaultTransport,
		recoverStatuses: map[int]bool{http.StatusUnauthorized: true},
		rotate:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.terminator = NewTerminator(store, m.navigator, m.interactive)

	return m, nil
}

// Transport returns the http.RoundTripper that authenticates and recovers
// requests. Without a refresher there is nothing to recover with and requests
// only pass through a Gate.
func (m *Manager) Transport() http.RoundTripper {
	if m.refresher == nil {
		return &Gate{Tokens: m.store, Base: m.base}
	}
	return &transport{manager: m}
}

// Credentials returns the current credential pair.
func (m *Manager) Credentials() credentials.Pair {
	return m.store.Get()
}

// StartSession stores a freshly issued pair and re-arms session termination.
func (m *Manager) StartSession(ctx context.Context, pair credentials.Pair) error {
	if pair.AccessToken == "" && pair.RefreshToken == "" {
		return fmt.Errorf("empty credential pair")
	}
	if err := m.store.SetPair(ctx, pair); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	m.terminator.Rearm()
	slog.InfoContext(ctx, "session started")
	return nil
}

// Logout clears the session without a navigation signal.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	slog.InfoContext(ctx, "session cleared")
	return nil
}

// Terminate ends the session as if a refresh had failed.
func (m *Manager) Terminate(ctx context.Context, cause error) {
	m.terminator.Terminate(ctx, cause)
}

func (m *Manager) stale(resp *http.Response) bool {
	return m.recoverStatuses[resp.StatusCode]
}

// recover returns a waiter that is settled with the token to replay with.
// sentWith is the access token the rejected request carried.
func (m *Manager) recover(ctx context.Context, sentWith string) *waiter {
	m.mu.Lock()

	if !m.refreshing {
		// A refresh finished after this request was sent: replay without a new one.
		if current := m.store.Get().AccessToken; current != "" && current != sentWith {
			m.mu.Unlock()
			return settledWaiter(current, nil)
		}
	}

	w := newWaiter()
	m.queue = append(m.queue, w)

	if m.refreshing {
		depth := len(m.queue)
		m.mu.Unlock()
		slog.DebugContext(ctx, "waiting for session refresh", "queued", depth)
		return w
	}

	m.refreshing = true
	m.mu.Unlock()

	// The refresh outlives the originating request: other callers depend on it.
	go m.refresh(context.WithoutCancel(ctx), sentWith)
	return w
}

// refresh performs the single refresh call of an episode and settles its waiters.
func (m *Manager) refresh(ctx context.Context, sentWith string) {
	token, err := m.renew(ctx, sentWith)
	if err != nil {
		// Clear before waking anyone so no request observes the dead session.
		m.terminator.Terminate(ctx, err)
	}

	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.refreshing = false
	m.mu.Unlock()

	if err != nil {
		for _, w := range queue {
			w.settle("", err)
		}
		return
	}

	slog.InfoContext(ctx, "replaying requests", "count", len(queue))
	for _, w := range queue {
		w.settle(token, nil)
		// Replays go out in arrival order.
		<-w.dispatched
	}
}

// renew returns the access token the episode replays with. Processes sharing
// the storage refresh independently, so the stored pair is re-read before the
// refresh token is spent and again before a rejection ends the session.
func (m *Manager) renew(ctx context.Context, sentWith string) (string, error) {
	stored := m.reload(ctx)
	if stored.AccessToken != "" && stored.AccessToken != sentWith {
		slog.InfoContext(ctx, "adopting session refreshed by another process")
		return stored.AccessToken, nil
	}

	token, err := m.obtain(ctx, stored.RefreshToken)
	if err == nil || stored.RefreshToken == "" {
		return token, err
	}

	// The refresh token may have been rotated elsewhere while it was in flight.
	current := m.reload(ctx)
	if current.RefreshToken == "" || current.RefreshToken == stored.RefreshToken {
		return "", err
	}
	if current.AccessToken != "" && current.AccessToken != sentWith {
		slog.InfoContext(ctx, "adopting session refreshed by another process")
		return current.AccessToken, nil
	}
	return m.obtain(ctx, current.RefreshToken)
}

// reload returns the stored pair, falling back to memory when storage is unreadable.
func (m *Manager) reload(ctx context.Context) credentials.Pair {
	pair, err := m.store.Reload(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to reload credentials", "error", err)
	}
	return pair
}

// obtain calls the refresher and persists the result.
func (m *Manager) obtain(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	slog.InfoContext(ctx, "refreshing session")

	pair, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		slog.ErrorContext(ctx, "session refresh failed", "error", err)
		return "", &RefreshFailedError{Err: err}
	}

	if m.rotate && pair.RefreshToken != "" {
		if err := m.store.SetRefresh(ctx, pair.RefreshToken); err != nil {
			// Memory holds the rotated token; only a restart would lose it.
			slog.ErrorContext(ctx, "failed to persist refresh token", "error", err)
		}
	}
	if err := m.store.SetAccess(ctx, pair.AccessToken); err != nil {
		slog.ErrorContext(ctx, "failed to persist access token", "error", err)
	}

	slog.InfoContext(ctx, "session refreshed", "rotated", m.rotate && pair.RefreshToken != "")
	return pair.AccessToken, nil
}

// pending returns the number of queued waiters.
func (m *Manager) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// waiter is a request parked until the refresh of its episode settles.
type waiter struct {
	ready chan struct{}
	token string
	err   error

	dispatched   chan struct{}
	dispatchOnce sync.Once
}

func newWaiter() *waiter {
	return &waiter{
		ready:      make(chan struct{}),
		dispatched: make(chan struct{}),
	}
}

func settledWaiter(token string, err error) *waiter {
	w := newWaiter()
	w.settle(token, err)
	w.markDispatched()
	return w
}

func (w *waiter) settle(token string, err error) {
	w.token = token
	w.err = err
	close(w.ready)
}

// wait blocks until settled. Parked callers cannot unsubscribe.
func (w *waiter) wait() (string, error) {
	<-w.ready
	return w.token, w.err
}

// markDispatched releases the next waiter in the queue.
func (w *waiter) markDispatched() {
	w.dispatchOnce.Do(func() { close(w.dispatched) })
}

// transport implements the refresh state machine on top of the gate.
type transport struct {
	manager *Manager
}

// Compile-time check that transport implements http.RoundTripper.
var _ http.RoundTripper = (*transport)(nil)

// RoundTrip sends req with the current access token. A stale-token response
// triggers at most one refresh-and-replay; the replay's outcome is final.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	m := t.manager
	ctx := req.Context()

	d, err := NewDescriptor(req)
	if err != nil {
		return nil, err
	}
	d = d.WithToken(m.store.Get().AccessToken)

	var w *waiter
	for {
		resp, err := t.send(d, w)
		if err != nil {
			return nil, err
		}
		if d.Retried() || !m.stale(resp) {
			return resp, nil
		}

		// The response is superseded by the replay.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscard))
		_ = resp.Body.Close()

		w = m.recover(ctx, d.Token())
		token, err := w.wait()
		if err != nil {
			return nil, err
		}

		slog.DebugContext(ctx, "replaying request",
			"method", req.Method, "path", req.URL.Path, "request_id", d.RequestID())
		d = d.Retry(token)
	}
}

// send dispatches d. When w is set, the next queued replay is released once
// this one has been answered.
func (t *transport) send(d Descriptor, w *waiter) (*http.Response, error) {
	if w != nil {
		defer w.markDispatched()
	}

	out, err := d.Request()
	if err != nil {
		return nil, err
	}
	return t.manager.base.RoundTrip(out)
}

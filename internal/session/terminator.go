package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/florianilch/glimpse/internal/credentials"
)

// Navigator moves the user to a login surface.
type Navigator interface {
	// ShowingLogin reports whether the login surface is already active.
	ShowingLogin() bool

	// RedirectToLogin asks the user to authenticate again.
	RedirectToLogin(ctx context.Context)
}

// NavigatorFunc adapts a function to Navigator. The login surface is never
// considered active.
type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) ShowingLogin() bool { return false }

func (f NavigatorFunc) RedirectToLogin(ctx context.Context) { f(ctx) }

// Terminator ends a session that cannot be refreshed. Terminate is idempotent:
// credentials are cleared on every call, the navigator is signaled once per
// session until Rearm.
type Terminator struct {
	store       *credentials.Store
	navigator   Navigator
	interactive bool

	mu       sync.Mutex
	signaled bool
}

// NewTerminator creates a Terminator. navigator may be nil.
func NewTerminator(store *credentials.Store, navigator Navigator, interactive bool) *Terminator {
	return &Terminator{
		store:       store,
		navigator:   navigator,
		interactive: interactive,
	}
}

// Terminate clears the stored credentials and signals the navigator at most once.
func (t *Terminator) Terminate(ctx context.Context, cause error) {
	t.mu.Lock()
	if err := t.store.Clear(ctx); err != nil {
		// Memory is cleared regardless; durable leftovers are overwritten on next login.
		slog.ErrorContext(ctx, "failed to clear stored credentials", "error", err)
	}

	first := !t.signaled
	t.signaled = true
	t.mu.Unlock()

	if !first {
		return
	}

	slog.WarnContext(ctx, "session terminated", "cause", cause)

	if !t.interactive || t.navigator == nil || t.navigator.ShowingLogin() {
		return
	}
	t.navigator.RedirectToLogin(ctx)
}

// Rearm starts a new episode: the next Terminate signals the navigator again.
func (t *Terminator) Rearm() {
	t.mu.Lock()
	t.signaled = false
	t.mu.Unlock()
}

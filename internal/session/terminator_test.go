package session

import (
	"context"
	"testing"

	"github.com/florianilch/glimpse/internal/credentials"
	"github.com/florianilch/glimpse/internal/tokenstore"
)

func TestTerminator(t *testing.T) {
	tests := []struct {
		name          string
		interactive   bool
		showingLogin  bool
		wantRedirects int32
	}{
		{name: "interactive redirects once", interactive: true, wantRedirects: 1},
		{name: "already on login", interactive: true, showingLogin: true, wantRedirects: 0},
		{name: "non-interactive", interactive: false, wantRedirects: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, err := credentials.NewStore(tokenstore.NewMemoryStore())
			if err != nil {
				t.Fatalf("NewStore failed: %v", err)
			}
			if err := store.SetPair(ctx, credentials.Pair{AccessToken: "A1", RefreshToken: "R1"}); err != nil {
				t.Fatalf("SetPair failed: %v", err)
			}

			nav := &countingNavigator{showing: tt.showingLogin}
			term := NewTerminator(store, nav, tt.interactive)

			// Two failing requests terminate back to back.
			for i := range 2 {
				term.Terminate(ctx, ErrNoRefreshToken)
				if got := store.Get(); !got.Empty() {
					t.Errorf("store after Terminate #%d = %+v, want empty", i+1, got)
				}
			}

			if got := nav.redirects.Load(); got != tt.wantRedirects {
				t.Errorf("redirects = %d, want %d", got, tt.wantRedirects)
			}
		})
	}
}

func TestNavigatorFunc(t *testing.T) {
	calls := 0
	nav := NavigatorFunc(func(context.Context) { calls++ })

	store, err := credentials.NewStore(tokenstore.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	term := NewTerminator(store, nav, true)

	term.Terminate(context.Background(), ErrNoRefreshToken)
	term.Terminate(context.Background(), ErrNoRefreshToken)
	term.Rearm()
	term.Terminate(context.Background(), ErrNoRefreshToken)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/glimpse/internal/apiclient"
	"github.com/florianilch/glimpse/internal/credentials"
	"github.com/florianilch/glimpse/internal/proxy"
	"github.com/florianilch/glimpse/internal/session"
	"github.com/florianilch/glimpse/internal/tokenstore"
)

// Option configures an App.
type Option func(*options)

type options struct {
	navigator   session.Navigator
	interactive bool
	transport   http.RoundTripper
}

// WithNavigator sets who is told to show the login screen when the session ends.
func WithNavigator(navigator session.Navigator, interactive bool) Option {
	return func(o *options) {
		o.navigator = navigator
		o.interactive = interactive
	}
}

// WithTransport sets the base transport for API and refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// App wires credential storage, the session manager and its consumers.
type App struct {
	cfg          *Config
	session      *session.Manager
	client       *apiclient.Client
	auth         *apiclient.Client
	proxy        *proxy.Proxy
	closeStorage func() error
}

// New creates a new App instance and loads stored credentials.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	storage, closeStorage, err := cfg.Storage.NewStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential storage: %w", err)
	}

	a, err := build(ctx, cfg, o, storage)
	if err != nil {
		_ = closeStorage()
		return nil, err
	}
	a.closeStorage = closeStorage

	return a, nil
}

func build(ctx context.Context, cfg *Config, o *options, storage tokenstore.Storage) (*App, error) {
	store, err := credentials.NewStore(storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	if err := store.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	refresher, err := newRefresher(cfg, o.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresher: %w", err)
	}

	manager, err := session.NewManager(store, refresher,
		session.WithBaseTransport(o.transport),
		session.WithRecoverStatuses(cfg.API.RecoverStatuses...),
		session.WithRotation(*cfg.Refresh.Rotate),
		session.WithNavigator(o.navigator, o.interactive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	client, err := apiclient.New(cfg.API.BaseURL, &http.Client{
		Transport: manager.Transport(),
		Timeout:   cfg.API.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	// Login must not go through recovery: a rejected password is not a stale session.
	auth, err := apiclient.New(cfg.API.BaseURL, &http.Client{
		Transport: o.transport,
		Timeout:   cfg.API.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	proxyServer, err := proxy.New(manager.Transport(),
		proxy.WithBaseURL(cfg.API.BaseURL),
		proxy.WithSessionCheck(func() bool { return !manager.Credentials().Empty() }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:     cfg,
		session: manager,
		client:  client,
		auth:    auth,
		proxy:   proxyServer,
	}, nil
}

// Session returns the session manager.
func (a *App) Session() *session.Manager {
	return a.session
}

// Client returns the API client bound to the session.
func (a *App) Client() *apiclient.Client {
	return a.client
}

// Login signs in with username and password and starts a new session.
func (a *App) Login(ctx context.Context, username, password string) error {
	pair, err := a.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return a.session.StartSession(ctx, pair)
}

// Credentials returns the current credential pair.
func (a *App) Credentials() credentials.Pair {
	return a.session.Credentials()
}

// Close releases storage connections.
func (a *App) Close() error {
	if a.closeStorage == nil {
		return nil
	}
	return a.closeStorage()
}

// Start starts the local proxy and blocks until shutdown is triggered.
// Storage stays open; callers still Close the App.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "session", !a.Credentials().Empty())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

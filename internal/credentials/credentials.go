// Package credentials holds the current session's access and refresh tokens.
//
// Store is a write-through cache over a tokenstore.Storage: reads are served
// from memory and writes go to durable storage. The cached copy always holds
// the latest value, so a failed durable write never loses a rotated token for
// the running process. Reload picks up values written by other processes
// sharing the same storage.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florianilch/glimpse/internal/tokenstore"
)

// Storage keys.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Pair is the current credential pair. An empty string means the token is absent.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether neither token is present.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// AccessExpiry returns the exp claim of the access token when it is a JWT.
// The signature is not verified; the result is informational only.
func (p Pair) AccessExpiry() (time.Time, bool) {
	if p.AccessToken == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Store holds the credential pair backed by durable storage.
type Store struct {
	storage tokenstore.Storage

	mu   sync.RWMutex
	pair Pair
	// unsynced is set while durable storage lags behind pair after a failed write.
	unsynced bool
}

// NewStore creates a Store over storage. Call Open to load persisted values.
func NewStore(storage tokenstore.Storage) (*Store, error) {
	if storage == nil {
		return nil, fmt.Errorf("missing storage")
	}
	return &Store{storage: storage}, nil
}

// Open loads the persisted pair into memory. Missing keys load as empty.
func (s *Store) Open(ctx context.Context) error {
	pair, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pair = pair
	s.unsynced = false
	s.mu.Unlock()
	return nil
}

// Reload re-reads the pair from durable storage and returns it. While a
// failed write has left storage behind memory, the in-memory pair wins and
// storage is not read. On a read error the in-memory pair is kept and returned
// along with the error.
func (s *Store) Reload(ctx context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsynced {
		return s.pair, nil
	}
	pair, err := s.load(ctx)
	if err != nil {
		return s.pair, err
	}
	s.pair = pair
	return pair, nil
}

func (s *Store) load(ctx context.Context) (Pair, error) {
	access, err := s.read(ctx, AccessTokenKey)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.read(ctx, RefreshTokenKey)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Store) read(ctx context.Context, key string) (string, error) {
	value, err := s.storage.Get(ctx, key)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// Get returns the current pair without I/O.
func (s *Store) Get() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// SetAccess persists the access token. An empty token removes it.
func (s *Store) SetAccess(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.write(ctx, AccessTokenKey, s.pair.AccessToken, token)
	s.pair.AccessToken = token
	s.unsynced = s.unsynced || err != nil
	return err
}

// SetRefresh persists the refresh token. An empty token removes it.
func (s *Store) SetRefresh(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.write(ctx, RefreshTokenKey, s.pair.RefreshToken, token)
	s.pair.RefreshToken = token
	s.unsynced = s.unsynced || err != nil
	return err
}

// SetPair persists both tokens.
func (s *Store) SetPair(ctx context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Refresh first: a crash in between leaves a session that can still recover.
	refreshErr := s.write(ctx, RefreshTokenKey, s.pair.RefreshToken, pair.RefreshToken)
	accessErr := s.write(ctx, AccessTokenKey, s.pair.AccessToken, pair.AccessToken)
	s.pair = pair
	err := errors.Join(refreshErr, accessErr)
	s.unsynced = err != nil
	return err
}

// Clear removes both tokens. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.storage.Remove(ctx, AccessTokenKey); err != nil {
		errs = append(errs, fmt.Errorf("removing %s: %w", AccessTokenKey, err))
	}
	if err := s.storage.Remove(ctx, RefreshTokenKey); err != nil {
		errs = append(errs, fmt.Errorf("removing %s: %w", RefreshTokenKey, err))
	}

	// The in-memory session ends regardless; stale durable values are reported.
	s.pair = Pair{}
	s.unsynced = len(errs) > 0
	return errors.Join(errs...)
}

// write must be called with s.mu held.
func (s *Store) write(ctx context.Context, key, current, value string) error {
	if current == value {
		return nil
	}
	if value == "" {
		if err := s.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("removing %s: %w", key, err)
		}
		return nil
	}
	if err := s.storage.Set(ctx, key, value); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

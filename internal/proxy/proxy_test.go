package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/florianilch/glimpse/internal/credentials"
	"github.com/florianilch/glimpse/internal/session"
	"github.com/florianilch/glimpse/internal/tokenstore"
)

type staticRefresher struct {
	pair credentials.Pair
}

func (s staticRefresher) Refresh(context.Context, string) (credentials.Pair, error) {
	return s.pair, nil
}

func newTestManager(t *testing.T, pair credentials.Pair) *session.Manager {
	t.Helper()

	store, err := credentials.NewStore(tokenstore.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if !pair.Empty() {
		if err := store.SetPair(context.Background(), pair); err != nil {
			t.Fatalf("SetPair failed: %v", err)
		}
	}
	m, err := session.NewManager(store, staticRefresher{pair: credentials.Pair{AccessToken: "A2"}})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestProxyForwardsWithSessionCredentials(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "" {
			t.Errorf("Cookie forwarded: %q", r.Header.Get("Cookie"))
		}
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get(session.RequestIDHeader) == "" {
			t.Errorf("request forwarded without %s", session.RequestIDHeader)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","body":` + string(body) + `}`))
	}))
	defer upstream.Close()

	m := newTestManager(t, credentials.Pair{AccessToken: "A1", RefreshToken: "R1"})
	p, err := New(m.Transport(), WithBaseURL(upstream.URL+"/v1"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/posts/42/comments", strings.NewReader(`{"text":"nice"}`))
	req.Header.Set("Authorization", "Bearer local-client")
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if rec.Header().Get(session.RequestIDHeader) == "" {
		t.Errorf("response missing %s", session.RequestIDHeader)
	}
	var got struct {
		Path string `json:"path"`
		Body struct {
			Text string `json:"text"`
		} `json:"body"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Path != "/v1/posts/42/comments" || got.Body.Text != "nice" {
		t.Errorf("upstream saw %+v", got)
	}
}

func TestProxySessionExpired(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	// No refresh token: the first rejection ends the session.
	m := newTestManager(t, credentials.Pair{AccessToken: "A1"})
	p, err := New(m.Transport(), WithBaseURL(upstream.URL), WithLoginHint("log in again"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var got ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Error != "session expired" || got.Login != "log in again" {
		t.Errorf("response = %+v", got)
	}
	if !m.Credentials().Empty() {
		t.Errorf("credentials not cleared: %+v", m.Credentials())
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	baseURL := upstream.URL
	upstream.Close()

	m := newTestManager(t, credentials.Pair{AccessToken: "A1", RefreshToken: "R1"})
	p, err := New(m.Transport(), WithBaseURL(baseURL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var got ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Error == "" {
		t.Errorf("response = %q, want JSON error", rec.Body.String())
	}
}

func TestProxyHealth(t *testing.T) {
	tests := []struct {
		name        string
		pair        credentials.Pair
		wantSession bool
	}{
		{name: "with session", pair: credentials.Pair{AccessToken: "A1", RefreshToken: "R1"}, wantSession: true},
		{name: "without session", wantSession: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.pair)
			p, err := New(m.Transport(),
				WithBaseURL("http://api.invalid"),
				WithSessionCheck(func() bool { return !m.Credentials().Empty() }),
			)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var got HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("invalid response: %v", err)
			}
			if got.Status != "ok" || got.Session != tt.wantSession {
				t.Errorf("health = %+v, want session=%v", got, tt.wantSession)
			}
		})
	}
}

func TestNewRequiresUpstream(t *testing.T) {
	if _, err := New(http.DefaultTransport); err == nil {
		t.Error("New without base URL succeeded, want error")
	}
	if _, err := New(nil, WithBaseURL("http://api.invalid")); err == nil {
		t.Error("New without transport succeeded, want error")
	}
}

func TestProxyStartShutdown(t *testing.T) {
	m := newTestManager(t, credentials.Pair{})
	p, err := New(m.Transport(), WithBaseURL("http://api.invalid"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	errCh, err := p.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error after shutdown: %v", err)
	}
}

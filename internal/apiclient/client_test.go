package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientDo(t *testing.T) {
	tests := []struct {
		name            string
		req             Request
		status          int
		wantPath        string
		wantQuery       string
		wantContentType string
		wantBody        string
		wantErrStatus   int
	}{
		{
			name:      "get with query",
			req:       Request{Path: "/feed", Query: url.Values{"page": {"2"}}},
			status:    http.StatusOK,
			wantPath:  "/v1/feed",
			wantQuery: "page=2",
		},
		{
			name:            "json body",
			req:             Request{Method: http.MethodPost, Path: "posts/42/like", Body: map[string]bool{"liked": true}},
			status:          http.StatusOK,
			wantPath:        "/v1/posts/42/like",
			wantContentType: "application/json",
			wantBody:        `{"liked":true}`,
		},
		{
			name:          "unexpected status",
			req:           Request{Path: "/missing"},
			status:        http.StatusNotFound,
			wantPath:      "/v1/missing",
			wantErrStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery, gotContentType, gotBody string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				gotContentType = r.Header.Get("Content-Type")
				data, _ := io.ReadAll(r.Body)
				gotBody = string(data)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer server.Close()

			client, err := New(server.URL+"/v1/", server.Client())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			resp, err := client.Do(context.Background(), tt.req)

			if tt.wantErrStatus != 0 {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("error = %v, want *APIError", err)
				}
				if apiErr.StatusCode != tt.wantErrStatus {
					t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantErrStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("Do failed: %v", err)
			}

			var out map[string]bool
			if err := resp.Decode(&out); err != nil || !out["ok"] {
				t.Errorf("Decode = %v, %v", out, err)
			}
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if gotContentType != tt.wantContentType {
				t.Errorf("Content-Type = %q, want %q", gotContentType, tt.wantContentType)
			}
			if gotBody != tt.wantBody {
				t.Errorf("body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestClientMultipartUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sunset.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data; boundary=") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got := r.FormValue("caption"); got != "golden hour" {
			t.Errorf("caption = %q", got)
		}
		f, header, err := r.FormFile("media")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)
		if header.Filename != "sunset.jpg" || string(data) != "jpeg-bytes" {
			t.Errorf("file = %q %q", header.Filename, data)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client, err := New(server.URL, server.Client())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	body, err := NewMultipart().Field("caption", "golden hour").FileFromPath("media", path)
	if err != nil {
		t.Fatalf("FileFromPath failed: %v", err)
	}

	resp, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/media", Body: body})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var in loginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Username != "ada" || in.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"A1","refreshToken":"R1"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, server.Client())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pair, err := client.Login(context.Background(), "ada", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken != "A1" || pair.RefreshToken != "R1" {
		t.Errorf("pair = %+v", pair)
	}

	_, err = client.Login(context.Background(), "ada", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401 APIError", err)
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "api.example.com", "://bad"} {
		if _, err := New(raw, http.DefaultClient); err == nil {
			t.Errorf("New(%q) succeeded, want error", raw)
		}
	}
}

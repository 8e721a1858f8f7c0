package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florianilch/glimpse/internal/apiclient"
	"github.com/florianilch/glimpse/internal/app"
	"github.com/florianilch/glimpse/internal/credentials"
)

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glimpse.toml")
	content := `
log_level = "debug"

[api]
base_url = "https://file.example.test"
recover_statuses = [401, 419]

[storage]
type = "memory"

[refresh]
rotate = false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	environ := func() []string {
		return []string{
			"GLIMPSE_API__BASE_URL=https://env.example.test",
			"GLIMPSE_SERVER__PORT=5000",
			"GLIMPSE_SESSION_ACCESS_TOKEN=not-config",
			"GLIMPSE_CONFIG=/ignored.toml",
			"UNRELATED=1",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.API.BaseURL != "https://env.example.test" {
		t.Errorf("base_url = %q, env should override file", cfg.API.BaseURL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log_level = %v, want debug", cfg.LogLevel)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("server.port = %d, want 5000", cfg.Server.Port)
	}
	if len(cfg.API.RecoverStatuses) != 2 || cfg.API.RecoverStatuses[1] != 419 {
		t.Errorf("recover_statuses = %v, want [401 419]", cfg.API.RecoverStatuses)
	}
	if cfg.Refresh.Rotate == nil || *cfg.Refresh.Rotate {
		t.Error("refresh.rotate = true, want false from file")
	}
	if cfg.Storage.Type != app.StorageTypeMemory {
		t.Errorf("storage.type = %q", cfg.Storage.Type)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	environ := func() []string {
		return []string{"GLIMPSE_STORAGE__TYPE=env"}
	}
	// env storage cannot hold refreshed credentials, and base_url is missing.
	if _, err := loadConfig("", nil, environ); err == nil {
		t.Error("loadConfig succeeded, want error")
	}
}

func TestConfigKey(t *testing.T) {
	tests := []struct {
		name   string
		sep    string
		want   string
		wantOK bool
	}{
		{name: "log-level", sep: "-", want: "log_level", wantOK: true},
		{name: "api--base-url", sep: "-", want: "api.base_url", wantOK: true},
		{name: "storage--redis-addr", sep: "-", want: "storage.redis_addr", wantOK: true},
		{name: "server--port", sep: "-", want: "server.port", wantOK: true},
		{name: "config", sep: "-"},
		{name: "username", sep: "-"},
		{name: "data", sep: "-"},
		{name: "LOG_EXPORTER", sep: "_", want: "log_exporter", wantOK: true},
		{name: "REFRESH__TOKEN_URL", sep: "_", want: "refresh.token_url", wantOK: true},
		{name: "SESSION_ACCESS_TOKEN", sep: "_"},
		{name: "STORAGE", sep: "_"},
		{name: "API____BASE_URL", sep: "_"},
	}
	for _, tt := range tests {
		got, ok := configKey(tt.name, tt.sep)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("configKey(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("user config dir is not controlled by XDG_CONFIG_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if got, err := defaultConfigPath(); err != nil || got != "" {
		t.Fatalf("defaultConfigPath without file = %q, %v; want empty", got, err)
	}

	want := filepath.Join(dir, "glimpse", configFileName)
	if err := os.MkdirAll(filepath.Dir(want), 0o700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(want, []byte("[api]\nbase_url = \"https://api.example.test\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if got, err := defaultConfigPath(); err != nil || got != want {
		t.Errorf("defaultConfigPath = %q, %v; want %q", got, err, want)
	}
}

func TestBuildRequest(t *testing.T) {
	media := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(media, []byte("jpeg"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name      string
		method    string
		data      string
		form      []string
		files     []string
		query     []string
		wantErr   bool
		wantBody  string // "json", "multipart" or ""
		wantQuery string
	}{
		{name: "plain get", method: "get"},
		{name: "json body", method: "post", data: `{"text":"nice"}`, wantBody: "json"},
		{name: "invalid json", method: "post", data: `{"text":`, wantErr: true},
		{name: "multipart", method: "post", form: []string{"caption=sunset"}, files: []string{"media=" + media}, wantBody: "multipart"},
		{name: "data and form", method: "post", data: `{}`, form: []string{"a=b"}, wantErr: true},
		{name: "bad form pair", method: "post", form: []string{"caption"}, wantErr: true},
		{name: "missing file", method: "post", files: []string{"media=/does/not/exist"}, wantErr: true},
		{name: "query", method: "get", query: []string{"page=2", "tag=go"}, wantQuery: "page=2&tag=go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(tt.method, "/feed", tt.data, tt.form, tt.files, tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatal("buildRequest succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildRequest failed: %v", err)
			}

			if req.Method != strings.ToUpper(tt.method) {
				t.Errorf("method = %q", req.Method)
			}
			switch tt.wantBody {
			case "json":
				if _, ok := req.Body.(json.RawMessage); !ok {
					t.Errorf("body = %T, want json.RawMessage", req.Body)
				}
			case "multipart":
				if _, ok := req.Body.(*apiclient.Multipart); !ok {
					t.Errorf("body = %T, want *apiclient.Multipart", req.Body)
				}
			default:
				if req.Body != nil {
					t.Errorf("body = %v, want nil", req.Body)
				}
			}
			if got := req.Query.Encode(); got != tt.wantQuery {
				t.Errorf("query = %q, want %q", got, tt.wantQuery)
			}
		})
	}
}

func TestWriteStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name    string
		pair    credentials.Pair
		want    []string
		wantNot []string
	}{
		{
			name: "no session",
			want: []string{"not logged in"},
		},
		{
			name:    "session with expiry",
			pair:    credentials.Pair{AccessToken: access, RefreshToken: "R1"},
			want:    []string{"logged in", "in 15m0s"},
			wantNot: []string{access, "R1"},
		},
		{
			name:    "opaque token without refresh",
			pair:    credentials.Pair{AccessToken: "opaque"},
			want:    []string{"logged in", "no refresh token"},
			wantNot: []string{"opaque"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeStatus(&buf, tt.pair, now)

			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output %q missing %q", out, want)
				}
			}
			for _, secret := range tt.wantNot {
				if strings.Contains(out, secret) {
					t.Errorf("output leaks %q", secret)
				}
			}
		})
	}
}

func TestTerminalNavigatorPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	nav := newTerminalNavigator(&buf)

	nav.RedirectToLogin(context.Background())
	nav.RedirectToLogin(context.Background())

	if got := strings.Count(buf.String(), "glimpse login"); got != 1 {
		t.Errorf("notice printed %d times, want 1", got)
	}
}

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/florianilch/glimpse/internal/tokensource"
	"github.com/florianilch/glimpse/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogExporter selects where log records go.
type LogExporter string

const (
	LogExporterNone     LogExporter = "none"
	LogExporterStdout   LogExporter = "stdout"
	LogExporterOTLPHTTP LogExporter = "otlp-http"
	LogExporterOTLPGRPC LogExporter = "otlp-grpc"
)

// StorageType represents the different backends supported for stored credentials.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeEnv     StorageType = "env"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeRedis   StorageType = "redis"
	StorageTypeMemory  StorageType = "memory"
)

// RefreshProtocol represents how an expired access token is renewed.
type RefreshProtocol string

const (
	// RefreshProtocolJSON posts {"token": ...} to the platform's refresh path.
	RefreshProtocolJSON RefreshProtocol = "json"
	// RefreshProtocolOAuth2 uses a standard OAuth2 refresh_token grant.
	RefreshProtocolOAuth2 RefreshProtocol = "oauth2"
	// RefreshProtocolNone disables refresh: stale-token responses reach the caller.
	RefreshProtocolNone RefreshProtocol = "none"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigLogExporter     = LogExporterNone
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAPITimeout      = 30 * time.Second
	DefaultConfigRefreshProtocol = RefreshProtocolJSON
	DefaultConfigRefreshPath     = "/auth/refresh"
	DefaultConfigStorageType     = StorageTypeFile
	DefaultConfigEnvPrefix       = "GLIMPSE_SESSION_"
	DefaultConfigRedisPrefix     = "glimpse:session"
)

// ServerConfig holds local proxy server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// APIConfig holds platform API configuration.
type APIConfig struct {
	BaseURL string        `json:"base_url" validate:"required,url"`
	Timeout time.Duration `json:"timeout"`
	// RecoverStatuses are the response statuses that trigger a refresh.
	RecoverStatuses []int `json:"recover_statuses" validate:"dive,min=400,max=599"`
}

// RefreshConfig describes how credentials are renewed.
type RefreshConfig struct {
	Protocol RefreshProtocol `json:"protocol" validate:"required,oneof=json oauth2 none"`

	// For json: path of the refresh endpoint relative to api.base_url.
	Path string `json:"path,omitempty"`

	// For oauth2.
	TokenURL     string `json:"token_url,omitempty" validate:"omitempty,url"`
	ClientID     string `json:"client_id,omitempty"`
	JSONEncoding bool   `json:"json_encoding,omitempty"`

	// Rotate persists refresh tokens returned by the refresh call. Defaults to true.
	Rotate *bool `json:"rotate,omitempty"`
}

// StorageConfig describes where credentials are kept between runs.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file env keyring redis memory"`

	// Backend-specific settings (mutually exclusive based on Type)
	File        string `json:"file,omitempty"`
	EnvPrefix   string `json:"env_prefix,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty" validate:"omitempty,hostname_port"`
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

// NewStorage creates the configured backend. The returned close function
// releases backend connections and is never nil.
func (s *StorageConfig) NewStorage() (tokenstore.Storage, func() error, error) {
	noop := func() error { return nil }

	switch s.Type {
	case StorageTypeFile:
		store, err := tokenstore.NewFileStore(s.File)
		return store, noop, err
	case StorageTypeEnv:
		store, err := tokenstore.NewEnvStore(s.EnvPrefix)
		return store, noop, err
	case StorageTypeKeyring:
		store, err := tokenstore.NewKeyringStore(tokenstore.KeyringService, s.KeyringUser)
		return store, noop, err
	case StorageTypeRedis:
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		store, err := tokenstore.NewRedisStore(client, s.RedisPrefix)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, client.Close, nil
	case StorageTypeMemory:
		return tokenstore.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json"`
	LogExporter LogExporter    `json:"log_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
	API         APIConfig      `json:"api"`
	Refresh     RefreshConfig  `json:"refresh"`
	Storage     StorageConfig  `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if len(c.API.RecoverStatuses) == 0 {
		c.API.RecoverStatuses = []int{http.StatusUnauthorized}
	}
	if c.Refresh.Protocol == "" {
		c.Refresh.Protocol = DefaultConfigRefreshProtocol
	}
	if c.Refresh.Protocol == RefreshProtocolJSON && c.Refresh.Path == "" {
		c.Refresh.Path = DefaultConfigRefreshPath
	}
	if c.Refresh.Rotate == nil {
		rotate := true
		c.Refresh.Rotate = &rotate
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "glimpse", "session.json")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StorageTypeRedis:
		if c.Storage.RedisPrefix == "" {
			c.Storage.RedisPrefix = DefaultConfigRedisPrefix
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Refreshing rewrites the stored credentials (env is read-only)
	if c.Refresh.Protocol != RefreshProtocolNone && c.Storage.Type == StorageTypeEnv {
		return errors.New("refresh requires writable storage, env is read-only (set refresh.protocol = \"none\")")
	}

	switch c.Refresh.Protocol {
	case RefreshProtocolJSON:
		if c.Refresh.Path == "" {
			return errors.New("refresh.path required for json refresh")
		}
	case RefreshProtocolOAuth2:
		if c.Refresh.TokenURL == "" {
			return errors.New("refresh.token_url required for oauth2 refresh")
		}
		if c.Refresh.ClientID == "" {
			return errors.New("refresh.client_id required for oauth2 refresh")
		}
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case StorageTypeRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("redis_addr required for redis storage")
		}
	}

	return nil
}

// RefreshURL returns the absolute URL of the json refresh endpoint.
func (c *Config) RefreshURL() string {
	return strings.TrimSuffix(c.API.BaseURL, "/") + "/" + strings.TrimPrefix(c.Refresh.Path, "/")
}

// newRefresher creates the refresher for the configured protocol.
// Returns nil for RefreshProtocolNone.
func newRefresher(c *Config, transport http.RoundTripper) (tokensource.Refresher, error) {
	opts := []tokensource.Option{
		tokensource.WithTransport(transport),
		tokensource.WithTimeout(c.API.Timeout),
	}

	switch c.Refresh.Protocol {
	case RefreshProtocolJSON:
		return tokensource.NewJSONRefresher(c.RefreshURL(), opts...)
	case RefreshProtocolOAuth2:
		if c.Refresh.JSONEncoding {
			opts = append(opts, tokensource.WithJSONEncoding())
		}
		return tokensource.NewOAuth2Refresher(tokensource.OAuth2Endpoint(c.Refresh.TokenURL), c.Refresh.ClientID, opts...)
	case RefreshProtocolNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported refresh protocol: %s", c.Refresh.Protocol)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/drivelane/reyrey-auth/internal/auth"
	"github.com/drivelane/reyrey-auth/internal/browserflow"
	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
	"github.com/drivelane/reyrey-auth/internal/validate"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 5000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigEnvPath         = ".env"
	DefaultConfigAPIBaseURL      = "http://localhost:5000"
	DefaultConfigWriteBack       = string(auth.WriteBackAll)
	DefaultConfigTokenName       = crm.DefaultTokenName
)

// ServerConfig holds token-server configuration for the serve command.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// StorageConfig holds the locations of the file-backed token stores.
type StorageConfig struct {
	// TokenDir is the base directory for token files and login diagnostics.
	TokenDir string `json:"token_dir"`
	// DBPath is the SQLite database location.
	DBPath string `json:"db_path"`
	// JSONPath is the JSON token document location.
	JSONPath string `json:"json_path"`
	// EnvPath is the .env-style token file location.
	EnvPath string `json:"env_path"`
}

// APIConfig holds the remote token-service configuration for the api
// provider.
type APIConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// BrowserConfig holds browser automation settings.
type BrowserConfig struct {
	// Headful shows the browser window during logins. Defaults to headless.
	Headful bool `json:"headful"`
}

// ValidationConfig holds token freshness settings.
type ValidationConfig struct {
	// ExpiryMargin retires tokens slightly before their known expiry.
	ExpiryMargin time.Duration `json:"expiry_margin"`
	// SkipLiveness disables the network probe against the auth service.
	SkipLiveness bool `json:"skip_liveness"`
}

// AuthConfig holds acquisition behavior settings.
type AuthConfig struct {
	// TokenName is the default logical token slot.
	TokenName string `json:"token_name"`
	// WriteBack selects which providers receive freshly obtained tokens.
	WriteBack string `json:"write_back" validate:"oneof=all first"`
	// NoLoginDedup lets concurrent acquisitions each run their own browser
	// login instead of sharing one.
	NoLoginDedup bool `json:"no_login_dedup"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel   slog.Level       `json:"log_level"`
	LogFormat  LogFormat        `json:"log_format" validate:"oneof=text json"`
	Server     ServerConfig     `json:"server"`
	Shutdown   ShutdownConfig   `json:"shutdown"`
	Storage    StorageConfig    `json:"storage"`
	API        APIConfig        `json:"api"`
	Browser    BrowserConfig    `json:"browser"`
	Validation ValidationConfig `json:"validation"`
	Auth       AuthConfig       `json:"auth"`
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
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Storage.TokenDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("storage.token_dir required (auto-detect failed: %w)", err)
		}
		c.Storage.TokenDir = filepath.Join(home, ".reyrey")
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.TokenDir, "tokens.db")
	}
	if c.Storage.JSONPath == "" {
		c.Storage.JSONPath = filepath.Join(c.Storage.TokenDir, "current_token.json")
	}
	if c.Storage.EnvPath == "" {
		c.Storage.EnvPath = DefaultConfigEnvPath
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.Validation.ExpiryMargin == 0 {
		c.Validation.ExpiryMargin = validate.DefaultExpiryMargin
	}
	if c.Auth.TokenName == "" {
		c.Auth.TokenName = DefaultConfigTokenName
	}
	if c.Auth.WriteBack == "" {
		c.Auth.WriteBack = DefaultConfigWriteBack
	}

	return nil
}

// Validate validates the configuration using struct tags plus cross-field
// rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Validation.ExpiryMargin < 0 {
		return errors.New("validation.expiry_margin cannot be negative")
	}

	return nil
}

// NewRegistry builds the provider registry described by the configuration.
// The database provider is registered lazily: its store is only opened (and
// migrated) when a chain actually consults it.
func (c *Config) NewRegistry() (*tokenstore.Registry, error) {
	registry := tokenstore.NewRegistry()

	envProvider, err := tokenstore.NewEnvFileProvider(c.Storage.EnvPath)
	if err != nil {
		return nil, fmt.Errorf("creating env_file provider: %w", err)
	}
	registry.Register(envProvider)

	jsonProvider, err := tokenstore.NewJsonFileProvider(c.Storage.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("creating json_file provider: %w", err)
	}
	registry.Register(jsonProvider)

	dbPath := c.Storage.DBPath
	registry.RegisterLazy(tokenstore.ProviderDatabase, func() (tokenstore.TokenProvider, error) {
		return tokenstore.NewDatabaseProvider(context.Background(), dbPath)
	})

	apiProvider, err := tokenstore.NewAPIProvider(c.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating api provider: %w", err)
	}
	registry.Register(apiProvider)

	keyringProvider, err := tokenstore.NewKeyringProvider(crm.Domain)
	if err != nil {
		return nil, fmt.Errorf("creating keyring provider: %w", err)
	}
	registry.Register(keyringProvider)

	return registry, nil
}

// NewFlow builds the browser login flow described by the configuration.
func (c *Config) NewFlow() *browserflow.Flow {
	return browserflow.New(
		browserflow.WithHeadless(!c.Browser.Headful),
		browserflow.WithScreenshotDir(filepath.Join(c.Storage.TokenDir, "logs")),
	)
}

// NewValidator builds the token validator described by the configuration.
func (c *Config) NewValidator() *validate.Validator {
	return validate.New(
		validate.WithExpiryMargin(c.Validation.ExpiryMargin),
		validate.WithLivenessCheck(!c.Validation.SkipLiveness),
	)
}

// NewManager builds the authentication facade described by the
// configuration.
func (c *Config) NewManager() (*auth.Manager, error) {
	registry, err := c.NewRegistry()
	if err != nil {
		return nil, err
	}

	return auth.NewManager(registry, c.NewValidator(), c.NewFlow(),
		auth.WithDefaultTokenName(c.Auth.TokenName),
		auth.WithWriteBackPolicy(auth.WriteBackPolicy(c.Auth.WriteBack)),
		auth.WithLoginDedup(!c.Auth.NoLoginDedup),
	), nil
}

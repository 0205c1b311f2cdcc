// Package server provides configuration helpers that define runtime defaults,
// environment loading, and validation for the Relay service.
package server

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration settings.
type Config struct {
	Port           string   `envconfig:"SERVER_PORT" default:":8080" validate:"required"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"4096" validate:"gt=0"`
	SendBuffer     int      `envconfig:"SEND_BUFFER" default:"256" validate:"gt=0"`

	// HistoryLimit caps the retained messages per room; zero keeps the full
	// backlog for the process lifetime.
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"0" validate:"gte=0"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := Config{
		Port:           cfg.Port,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
		HistoryLimit:   cfg.HistoryLimit,
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// falling back to struct defaults for unset variables, and validates the
// result.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

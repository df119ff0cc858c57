package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the gateway configuration. Environment variables are
// parsed from the LOD_GATEWAY_ prefix, e.g. LOD_GATEWAY_HTTP_PORT.
type Config struct {
	// HTTP
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
	BaseURL  string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// Relational store
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Triple store (SPARQL graph store protocol endpoint). Empty disables
	// graph synchronization; records are still served from the relational
	// store and can be pushed later via reconciliation.
	GraphStoreEndpoint string `envconfig:"GRAPH_STORE_ENDPOINT" default:""`
	GraphBase          string `envconfig:"GRAPH_BASE" default:"http://localhost:8080/data"`
	GraphRetryAttempts int    `envconfig:"GRAPH_RETRY_ATTEMPTS" default:"3"`
	GraphRetryDelayMS  int    `envconfig:"GRAPH_RETRY_DELAY_MS" default:"500"`

	// Versioning behaviour
	KeepVersions           bool `envconfig:"KEEP_VERSIONS" default:"true"`
	KeepVersionsForDeleted bool `envconfig:"KEEP_VERSIONS_FOR_DELETED" default:"true"`

	// Activity feed
	PageSize int `envconfig:"PAGE_SIZE" default:"100"`

	// Health probes
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"5"`
}

// New creates a Config by parsing LOD_GATEWAY_-prefixed environment
// variables and validating the result.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LOD_GATEWAY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("base_url", cfg.BaseURL).
		Bool("graph_sync", cfg.GraphSyncEnabled()).
		Bool("keep_versions", cfg.KeepVersions).
		Int("page_size", cfg.PageSize).
		Msg("configuration loaded")

	return &cfg, nil
}

// Validate checks driver selection and pagination settings.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("LOD_GATEWAY_POSTGRES_DSN is required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("LOD_GATEWAY_SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive")
	}
	return nil
}

// GraphSyncEnabled reports whether a triple store endpoint is configured.
func (c *Config) GraphSyncEnabled() bool { return c.GraphStoreEndpoint != "" }

// GetHTTPAddr returns the HTTP listen address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

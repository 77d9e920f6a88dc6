// Package config loads client settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/authz"
	"github.com/systematics/examclient/internal/idle"
	"github.com/systematics/examclient/internal/store/postgres"
	"gopkg.in/yaml.v3"
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config is the client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Routes    RoutesConfig    `yaml:"routes"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	URL string `yaml:"url"`

	// Timeout is a Go duration string such as "30s".
	Timeout string `yaml:"timeout"`
}

// RequestTimeout returns the HTTP request timeout, 30s when unset or invalid.
func (sc ServerConfig) RequestTimeout() time.Duration {
	return parseDuration("server.timeout", sc.Timeout, 30*time.Second)
}

type StoreConfig struct {
	Type string `yaml:"type"`

	// Dir is the directory of the file store, ~/.examclient when empty.
	Dir string `yaml:"dir"`

	// CacheDir holds cached public assets, inside Dir when empty.
	CacheDir string `yaml:"cache_dir"`

	Namespace string              `yaml:"namespace"`
	Postgres  postgres.PoolConfig `yaml:"postgres"`
}

type SessionConfig struct {
	// IdleTimeout is a Go duration string, 25m when unset.
	IdleTimeout string `yaml:"idle_timeout"`
}

// Idle returns the idle timeout.
func (sc SessionConfig) Idle() time.Duration {
	return parseDuration("session.idle_timeout", sc.IdleTimeout, idle.DefaultTimeout)
}

type RoutesConfig struct {
	Landing   string `yaml:"landing"`
	Forbidden string `yaml:"forbidden"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open failed: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding failed: %w", err)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8000"
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreFile
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = "default"
	}
	if c.Routes.Landing == "" {
		c.Routes.Landing = authz.DefaultLandingRoute
	}
	if c.Routes.Forbidden == "" {
		c.Routes.Forbidden = authz.DefaultForbiddenRoute
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "examclient"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be an absolute http(s) URL, got %q", c.Server.URL)
	}

	switch c.Store.Type {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.Store.Postgres.ConnString == "" {
			return fmt.Errorf("store.postgres.conn_string is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store.type %q (memory, file or postgres)", c.Store.Type)
	}

	if c.Routes.Landing == c.Routes.Forbidden {
		return fmt.Errorf("routes.landing and routes.forbidden must differ")
	}

	return nil
}

func parseDuration(field, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Error().Str("field", field).Str("value", value).Msg("wrong duration format, using default")
		return fallback
	}
	return d
}

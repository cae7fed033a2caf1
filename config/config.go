// Package config holds the namos service configuration and its loader.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StoreNATSKV   = "natskv"
	StorePostgres = "postgres"
)

// DefaultEnabledServices is the set of projects the conductor accepts
// registrations from.
var DefaultEnabledServices = []string{
	"namos", "cinder", "nova", "keystone", "horizon",
	"heat", "neutron", "glance", "swift", "trove",
}

// Config is the complete service configuration.
type Config struct {
	Conductor ConductorConfig `json:"conductor"`
	NATS      NATSConfig      `json:"nats"`
	Store     StoreConfig     `json:"store"`
	HTTP      HTTPConfig      `json:"http"`
	Metrics   MetricsConfig   `json:"metrics"`
	Liveness  LivenessConfig  `json:"liveness"`
	Log       LogConfig       `json:"log"`
}

// ConductorConfig configures the RPC server.
type ConductorConfig struct {
	Host            string        `json:"host"`
	Topic           string        `json:"topic"`
	Workers         int           `json:"workers"`
	EnabledServices []string      `json:"enabled_services"`
	DefaultRegion   string        `json:"default_region"`
	CallbackTimeout time.Duration `json:"callback_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	// SchemaCacheTTL bounds how long a project's option schemas are reused
	// between registrations. Zero disables the cache.
	SchemaCacheTTL time.Duration `json:"schema_cache_ttl"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// StoreConfig selects the store backend.
// Path is the badger directory (empty runs in memory), DSN the postgres
// connection string and Bucket the NATS KV bucket.
type StoreConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// HTTPConfig configures the REST facade.
type HTTPConfig struct {
	Addr string        `json:"addr"`
	TLS  HTTPTLSConfig `json:"tls,omitempty"`
}

// HTTPTLSConfig serves the facade over HTTPS when enabled.
type HTTPTLSConfig struct {
	Enabled           bool   `json:"enabled"`
	CertFile          string `json:"cert_file,omitempty"`
	KeyFile           string `json:"key_file,omitempty"`
	MinVersion        string `json:"min_version,omitempty"`
	ClientCAFile      string `json:"client_ca_file,omitempty"`
	RequireClientCert bool   `json:"require_client_cert,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// LivenessConfig sets the worker liveness windows.
type LivenessConfig struct {
	ReportInterval time.Duration `json:"report_interval"`
	DeadSince      time.Duration `json:"dead_since"`
	SweepInterval  time.Duration `json:"sweep_interval"`
}

// LogConfig sets the log level (debug, info, warn, error) and format (json, text).
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Conductor: ConductorConfig{
			Host:            "namos-dev",
			Topic:           "namos.conductor",
			Workers:         1,
			EnabledServices: append([]string(nil), DefaultEnabledServices...),
			DefaultRegion:   "RegionOne",
			CallbackTimeout: 5 * time.Second,
			RequestTimeout:  30 * time.Second,
			SchemaCacheTTL:  30 * time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Bucket: "namos",
		},
		HTTP: HTTPConfig{Addr: ":9999"},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Liveness: LivenessConfig{
			ReportInterval: 60 * time.Second,
			DeadSince:      300 * time.Second,
			SweepInterval:  300 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// ServiceEnabled reports whether project may register. An empty list
// accepts every project.
func (c *ConductorConfig) ServiceEnabled(project string) bool {
	if len(c.EnabledServices) == 0 {
		return true
	}
	for _, s := range c.EnabledServices {
		if strings.EqualFold(s, project) {
			return true
		}
	}
	return false
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Conductor.Host == "" {
		return errors.New("conductor.host is required")
	}
	if !isValidNATSSubject(c.Conductor.Topic) {
		return fmt.Errorf("conductor.topic %q is not a valid NATS subject", c.Conductor.Topic)
	}
	if c.Conductor.Workers < 1 {
		return fmt.Errorf("conductor.workers must be at least 1, got %d", c.Conductor.Workers)
	}
	if c.Conductor.DefaultRegion == "" {
		return errors.New("conductor.default_region is required")
	}
	if c.Conductor.CallbackTimeout <= 0 {
		return errors.New("conductor.callback_timeout must be positive")
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		return errors.New("http.tls needs cert_file and key_file")
	}
	if c.Conductor.SchemaCacheTTL < 0 {
		return errors.New("conductor.schema_cache_ttl must not be negative")
	}

	switch c.Store.Driver {
	case StoreMemory, StoreBadger:
	case StoreNATSKV:
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for the natskv driver")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Liveness.ReportInterval <= 0 || c.Liveness.DeadSince <= 0 {
		return errors.New("liveness intervals must be positive")
	}
	if c.Liveness.DeadSince < c.Liveness.ReportInterval {
		return fmt.Errorf("liveness.dead_since (%s) is shorter than liveness.report_interval (%s)",
			c.Liveness.DeadSince, c.Liveness.ReportInterval)
	}

	if c.NATS.TLS.Enabled && c.NATS.TLS.CAFile == "" && c.NATS.TLS.CertFile == "" {
		return errors.New("nats.tls needs ca_file or cert_file when enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// isValidNATSSubject checks that s is a dot-separated NATS subject without
// wildcards.
func isValidNATSSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	if masked.Store.DSN != "" {
		masked.Store.DSN = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

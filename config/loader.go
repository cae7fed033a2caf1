package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NAMOS"

// durationPaths lists the fields whose layer values may be duration strings.
var durationPaths = [][]string{
	{"conductor", "callback_timeout"},
	{"conductor", "request_timeout"},
	{"conductor", "schema_cache_ttl"},
	{"nats", "reconnect_wait"},
	{"liveness", "report_interval"},
	{"liveness", "dead_since"},
	{"liveness", "sweep_interval"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader that validates the result.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the layers over the defaults, applies environment overrides
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML layer into a map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	format, err := layerFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		section, ok := data[path[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[path[1]].(string)
		if !ok {
			continue
		}
		d, err := parseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		section[path[1]] = d.Nanoseconds()
	}
	return nil
}

// parseDuration accepts Go durations plus a day suffix ("2d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies NAMOS_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if val == "" {
			return nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}
	list := func(name string, dst *[]string) error {
		var val string
		if err := str(name, &val); err != nil || val == "" {
			return err
		}
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		var val string
		if err := str(name, &val); err != nil || val == "" {
			return err
		}
		d, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	steps := []error{
		str("CONDUCTOR_HOST", &cfg.Conductor.Host),
		str("CONDUCTOR_TOPIC", &cfg.Conductor.Topic),
		str("DEFAULT_REGION", &cfg.Conductor.DefaultRegion),
		list("ENABLED_SERVICES", &cfg.Conductor.EnabledServices),
		dur("CALLBACK_TIMEOUT", &cfg.Conductor.CallbackTimeout),
		dur("SCHEMA_CACHE_TTL", &cfg.Conductor.SchemaCacheTTL),
		list("NATS_URLS", &cfg.NATS.URLs),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("STORE_DRIVER", &cfg.Store.Driver),
		str("STORE_PATH", &cfg.Store.Path),
		str("STORE_DSN", &cfg.Store.DSN),
		str("STORE_BUCKET", &cfg.Store.Bucket),
		str("HTTP_ADDR", &cfg.HTTP.Addr),
		str("METRICS_ADDR", &cfg.Metrics.Addr),
		dur("REPORT_INTERVAL", &cfg.Liveness.ReportInterval),
		dur("DEAD_SINCE", &cfg.Liveness.DeadSince),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	if val := l.getenv(l.envPrefix + "_CONDUCTOR_WORKERS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_CONDUCTOR_WORKERS: %w", l.envPrefix, err)
		}
		cfg.Conductor.Workers = n
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeLayer(path, data)
}

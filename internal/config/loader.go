package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvReverseProxy overrides server.reverse_proxy.
const EnvReverseProxy = "TXWIRE_REVERSE_PROXY"

// Load reads and parses a YAML configuration file. An empty path yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv applies environment overrides read through lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvReverseProxy); ok && strings.TrimSpace(v) != "" {
		on, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReverseProxy, err)
		}
		cfg.Server.ReverseProxy = on
	}
	return nil
}

// validate checks the configuration for errors and fills per-target
// defaults.
func validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.InactivityTimeout < 0 || cfg.Server.IdleTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if cfg.Server.MaxHeaderSize < 0 || cfg.Server.MaxMessageSize < 0 || cfg.Server.MaxWebSocketSize < 0 {
		return fmt.Errorf("server size limits must not be negative")
	}
	if cfg.Client.DialTimeout <= 0 {
		return fmt.Errorf("client.dial_timeout must be positive")
	}

	for i, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("target[%d]: name is required", i)
		}
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target[%d]: url must be an absolute http(s) url", i)
		}
		if t.Method == "" {
			cfg.Targets[i].Method = http.MethodGet
		}
		if t.Weight <= 0 {
			cfg.Targets[i].Weight = 100
		}
		if t.Timeout <= 0 {
			cfg.Targets[i].Timeout = 30 * time.Second
		}
	}

	if cfg.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive")
	}
	if cfg.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if cfg.Worker.Rate < 0 {
		return fmt.Errorf("worker.rate must not be negative")
	}

	if cfg.Health.Enabled && cfg.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required")
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvReverseProxy, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.False(t, cfg.Server.ReverseProxy)
	assert.Equal(t, 30*time.Second, cfg.Server.InactivityTimeout)
	assert.Equal(t, 50, cfg.Worker.PoolSize)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvReverseProxy, "")
	path := writeConfig(t, `
server:
  address: 127.0.0.1:9000
  reverse_proxy: true
  idle_timeout: 5s
targets:
  - name: api
    url: http://127.0.0.1:9000/health
  - name: upload
    url: https://example.com/upload
    method: POST
    weight: 10
    headers:
      Content-Type: text/plain
worker:
  pool_size: 4
  queue_size: 16
  rate: 200
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.True(t, cfg.Server.ReverseProxy)
	assert.Equal(t, 5*time.Second, cfg.Server.IdleTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.InactivityTimeout)

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "GET", cfg.Targets[0].Method)
	assert.Equal(t, 100, cfg.Targets[0].Weight)
	assert.Equal(t, 30*time.Second, cfg.Targets[0].Timeout)
	assert.Equal(t, "POST", cfg.Targets[1].Method)
	assert.Equal(t, 10, cfg.Targets[1].Weight)
	assert.Equal(t, "text/plain", cfg.Targets[1].Headers["Content-Type"])

	assert.Equal(t, 200.0, cfg.Worker.Rate)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  reverse_proxy: false\n")

	t.Setenv(EnvReverseProxy, "true")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Server.ReverseProxy)

	t.Setenv(EnvReverseProxy, "maybe")
	_, err = Load(path)
	assert.ErrorContains(t, err, EnvReverseProxy)
}

func TestApplyEnvLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ReverseProxy = true

	env := map[string]string{EnvReverseProxy: "0"}
	require.NoError(t, applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.False(t, cfg.Server.ReverseProxy)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvReverseProxy, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"negative timeout", func(c *Config) { c.Server.IdleTimeout = -time.Second }, "timeouts"},
		{"negative limit", func(c *Config) { c.Server.MaxHeaderSize = -1 }, "size limits"},
		{"dial timeout", func(c *Config) { c.Client.DialTimeout = 0 }, "dial_timeout"},
		{"target name", func(c *Config) { c.Targets = []Target{{URL: "http://x"}} }, "name is required"},
		{"target scheme", func(c *Config) { c.Targets = []Target{{Name: "a", URL: "ftp://x"}} }, "absolute http(s) url"},
		{"target host", func(c *Config) { c.Targets = []Target{{Name: "a", URL: "/relative"}} }, "absolute http(s) url"},
		{"pool size", func(c *Config) { c.Worker.PoolSize = 0 }, "pool_size"},
		{"queue size", func(c *Config) { c.Worker.QueueSize = 0 }, "queue_size"},
		{"rate", func(c *Config) { c.Worker.Rate = -1 }, "rate"},
		{"health interval", func(c *Config) { c.Health.Interval = 0 }, "health.interval"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "" }, "metrics.path"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, validate(cfg), tt.want)
		})
	}

	disabled := DefaultConfig()
	disabled.Health.Enabled = false
	disabled.Health.Interval = 0
	assert.NoError(t, validate(disabled))
}

func TestTransportConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ReverseProxy = true
	cfg.Server.MaxRequestsPerConn = 3

	sc := cfg.Server.TransportConfig()
	assert.True(t, sc.ReverseProxy)
	assert.Equal(t, 3, sc.MaxRequestsPerConn)
	assert.Equal(t, cfg.Server.MaxHeaderSize, sc.Limits.MaxHeaderSize)
	assert.Equal(t, 256*1024, sc.MaxMessageSize)

	cc := cfg.Client.TransportConfig()
	assert.Equal(t, 5*time.Second, cc.DialTimeout)
	assert.Equal(t, "txwire", cc.UserAgent)
	assert.Positive(t, cc.MaxMessageSize)
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv(EnvReverseProxy, "")

	cfg, err := Load(filepath.Join("..", "..", "examples", "txwire.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "POST", cfg.Targets[0].Method)
	assert.Equal(t, 80, cfg.Targets[0].Weight)
	assert.Equal(t, "GET", cfg.Targets[1].Method)
	assert.Equal(t, 5*time.Second, cfg.Targets[1].Timeout)
	assert.Equal(t, 30*time.Second, cfg.Targets[0].Timeout)
	assert.Equal(t, 200.0, cfg.Worker.Rate)
	assert.Equal(t, ":9091", cfg.Health.GRPCAddress)
}

package config

import (
	"time"

	"github.com/txwire/pkg/protocol"
	"github.com/txwire/pkg/transport"
)

// Config is the root configuration structure.
type Config struct {
	Server  Server   `yaml:"server"`
	Client  Client   `yaml:"client"`
	Targets []Target `yaml:"targets"`
	Worker  Worker   `yaml:"worker"`
	Health  Health   `yaml:"health"`
	Metrics Metrics  `yaml:"metrics"`
	Log     Log      `yaml:"log"`
}

// Server configures the transaction server.
type Server struct {
	Address            string        `yaml:"address"`
	ReverseProxy       bool          `yaml:"reverse_proxy"`
	InactivityTimeout  time.Duration `yaml:"inactivity_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestsPerConn int           `yaml:"max_requests_per_conn"`
	MaxHeaderSize      int           `yaml:"max_header_size"`
	MaxMessageSize     int           `yaml:"max_message_size"`
	MaxWebSocketSize   int           `yaml:"max_websocket_message_size"`
}

// Client configures outgoing transactions.
type Client struct {
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	TLSInsecure       bool          `yaml:"tls_insecure"`
	UserAgent         string        `yaml:"user_agent"`
	MaxHeaderSize     int           `yaml:"max_header_size"`
	MaxMessageSize    int           `yaml:"max_message_size"`
}

// Target defines an endpoint that is probed by the health checker and hit by
// the load generator.
type Target struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Weight  int               `yaml:"weight"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Worker configures the load generator pool.
type Worker struct {
	PoolSize  int     `yaml:"pool_size"`
	QueueSize int     `yaml:"queue_size"`
	Rate      float64 `yaml:"rate"` // transactions per second, 0 = unlimited
}

// Health configures the upstream health checker.
type Health struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	GRPCAddress string        `yaml:"grpc_address,omitempty"`
}

// Metrics configures Prometheus metrics.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Log configures structured logging.
type Log struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"` // json or console
	Outputs     []string `yaml:"outputs"`
	Development bool     `yaml:"development"`
	Rotation    Rotation `yaml:"rotation"`
}

// Rotation configures log file rotation for file outputs.
type Rotation struct {
	Enable     bool `yaml:"enable"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	limits := protocol.DefaultLimits()
	return &Config{
		Server: Server{
			Address:           ":8080",
			InactivityTimeout: 30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxHeaderSize:     limits.MaxHeaderSize,
			MaxMessageSize:    limits.MaxMessageSize,
			MaxWebSocketSize:  256 * 1024,
		},
		Client: Client{
			DialTimeout:       5 * time.Second,
			InactivityTimeout: 30 * time.Second,
			UserAgent:         "txwire",
			MaxHeaderSize:     limits.MaxHeaderSize,
			MaxMessageSize:    limits.MaxMessageSize,
		},
		Worker: Worker{
			PoolSize:  50,
			QueueSize: 1000,
		},
		Health: Health{
			Enabled:  true,
			Interval: 10 * time.Second,
			Timeout:  5 * time.Second,
		},
		Metrics: Metrics{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Log: Log{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// TransportConfig converts the server section for the transport package.
func (s Server) TransportConfig() transport.ServerConfig {
	return transport.ServerConfig{
		Address:            s.Address,
		ReverseProxy:       s.ReverseProxy,
		InactivityTimeout:  s.InactivityTimeout,
		IdleTimeout:        s.IdleTimeout,
		MaxRequestsPerConn: s.MaxRequestsPerConn,
		Limits: protocol.Limits{
			MaxHeaderSize:  s.MaxHeaderSize,
			MaxMessageSize: s.MaxMessageSize,
		},
		MaxMessageSize: s.MaxWebSocketSize,
	}
}

// TransportConfig converts the client section for the transport package.
func (c Client) TransportConfig() transport.ClientConfig {
	cfg := transport.DefaultClientConfig()
	cfg.DialTimeout = c.DialTimeout
	cfg.InactivityTimeout = c.InactivityTimeout
	cfg.TLSInsecure = c.TLSInsecure
	cfg.UserAgent = c.UserAgent
	cfg.Limits = protocol.Limits{
		MaxHeaderSize:  c.MaxHeaderSize,
		MaxMessageSize: c.MaxMessageSize,
	}
	return cfg
}

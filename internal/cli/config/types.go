// Package config provides configuration management for the querydeck CLI
// and server.
package config

import (
	"time"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// Config holds all configuration options.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Backend BackendConfig `koanf:"backend"`
	Log     LogConfig     `koanf:"log"`
	Watch   bool          `koanf:"watch"`
	Verbose bool          `koanf:"verbose"`

	// SecretGenerated is set when no session secret was configured and a
	// random one was created for this process.
	SecretGenerated bool `koanf:"-"`
}

// ServerConfig holds configuration for the web server.
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	SessionSecret     string        `koanf:"session_secret"`
	EncryptionKey     string        `koanf:"encryption_key"`
	SecureCookies     bool          `koanf:"secure_cookies"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	Dev               bool          `koanf:"dev"`
}

// BackendConfig holds the database backend configuration. The principal and
// credentials come from each signed-in user.
type BackendConfig struct {
	Type     string `koanf:"type"` // postgres, duckdb, sqlite
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	DataDir  string `koanf:"data_dir"`

	// Additional driver-specific connection options
	Options map[string]string `koanf:"options"`

	// Params holds driver-specific configuration (e.g. DuckDB extensions and settings)
	Params map[string]any `koanf:"params"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// Default configuration values.
const (
	DefaultAddr              = ":8080"
	DefaultBackend           = "postgres"
	DefaultPostgresPort      = 5432
	DefaultDataDir           = "data"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "querydeck.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "querydeck.yml"

// EnvPrefix prefixes every environment variable read as configuration.
const EnvPrefix = "QUERYDECK_"

// ConnParams converts the backend section into connection parameters.
func (b BackendConfig) ConnParams() backend.Params {
	return backend.Params{
		Host:     b.Host,
		Port:     b.Port,
		Database: b.Database,
		DataDir:  b.DataDir,
		Options:  b.Options,
		Settings: b.Params,
	}
}

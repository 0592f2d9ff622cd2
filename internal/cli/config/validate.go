package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// MinSecretLength is the minimum length of a configured session secret.
const MinSecretLength = 32

// ApplyDefaults fills unset values. Values loaded through Load already carry
// the defaults; this covers configs built in code.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Backend.Type == "" {
		c.Backend.Type = DefaultBackend
	}
	c.Backend.Type = strings.ToLower(c.Backend.Type)
	if c.Backend.Type == "postgres" && c.Backend.Port == 0 {
		c.Backend.Port = DefaultPostgresPort
	}
	if c.Backend.DataDir == "" {
		c.Backend.DataDir = DefaultDataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch len(c.Server.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("server.encryption_key must be 16, 24 or 32 bytes, got %d", len(c.Server.EncryptionKey))
	}
	if c.Server.SessionSecret != "" && len(c.Server.SessionSecret) < MinSecretLength && !c.Server.Dev {
		return fmt.Errorf("server.session_secret must be at least %d bytes", MinSecretLength)
	}
	return nil
}

// Validate checks if the backend configuration is valid.
// It uses the backend registry to determine which backend types are available.
func (b *BackendConfig) Validate() error {
	if b.Type == "" {
		return fmt.Errorf("backend type is required")
	}

	// Use backend registry as single source of truth
	if !backend.IsRegistered(strings.ToLower(b.Type)) {
		return &backend.UnknownDriverError{
			Type:      b.Type,
			Available: backend.List(),
		}
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	return level, nil
}

// EnsureSessionSecret generates a random session secret when none is
// configured. Sessions signed with it do not survive a restart.
func (c *Config) EnsureSessionSecret() error {
	if c.Server.SessionSecret != "" {
		return nil
	}
	buf := make([]byte, MinSecretLength)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate session secret: %w", err)
	}
	c.Server.SessionSecret = hex.EncodeToString(buf)
	c.SecretGenerated = true
	return nil
}

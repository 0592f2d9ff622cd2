package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store config in context.
type configKey struct{}

// flagKeys maps flag names to the config keys they override. Flags not
// listed use their name with dashes turned into underscores.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"backend":   "backend.type",
	"data-dir":  "backend.data_dir",
	"log-level": "log.level",
	"host":      "backend.host",
	"port":      "backend.port",
	"dev":       "server.dev",
}

// Loader loads configuration from defaults, a YAML file, environment
// variables and command-line flags.
type Loader struct {
	cfgFile string
	flags   *pflag.FlagSet
	used    string
}

// NewLoader creates a Loader. cfgFile may be empty, in which case
// querydeck.yaml or querydeck.yml in the working directory is used if present.
// Only flags that were explicitly set override other sources.
func NewLoader(cfgFile string, flags *pflag.FlagSet) *Loader {
	return &Loader{cfgFile: cfgFile, flags: flags}
}

// FileUsed returns the path of the config file read by the last Load, if any.
func (l *Loader) FileUsed() string {
	return l.used
}

// Load reads configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"server.addr":                DefaultAddr,
		"server.shutdown_timeout":    DefaultShutdownTimeout.String(),
		"server.read_header_timeout": DefaultReadHeaderTimeout.String(),
		"server.connect_timeout":     DefaultConnectTimeout.String(),
		"backend.type":               DefaultBackend,
		"backend.data_dir":           DefaultDataDir,
		"log.level":                  DefaultLogLevel,
		"log.format":                 DefaultLogFormat,
		"watch":                      false,
		"verbose":                    false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	l.used = findConfigFile(l.cfgFile)
	if l.used != "" {
		if err := k.Load(file.Provider(l.used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", l.used, err)
		}
	}

	// 3. Load environment variables (QUERYDECK_ prefix, "__" nests)
	// Transform: QUERYDECK_BACKEND__DATA_DIR -> backend.data_dir
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if l.flags != nil {
		flags := l.flags
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ApplyDefaults()
	expandBackendEnvVars(&cfg.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadConfig is a shorthand for NewLoader(cfgFile, flags).Load().
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	return NewLoader(cfgFile, flags).Load()
}

// findConfigFile finds the config file to use.
// Priority: explicit path > querydeck.yaml > querydeck.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandBackendEnvVars expands environment variables in the backend fields
// that commonly hold deployment-specific values.
func expandBackendEnvVars(b *BackendConfig) {
	b.Host = expandEnvVars(b.Host)
	b.Database = expandEnvVars(b.Database)
	b.DataDir = expandEnvVars(b.DataDir)
	for k, v := range b.Options {
		b.Options[k] = expandEnvVars(v)
	}
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context, or a default
// config if none was stored.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

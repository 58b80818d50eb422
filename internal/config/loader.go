// Package config loads nimbusdl runtime configuration.
//
// Precedence, lowest first: built-in defaults, config file, NIMBUSDL_*
// environment variables, runtime overrides (usually CLI flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "NIMBUSDL"

// Config is the resolved runtime configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Download DownloadConfig `mapstructure:"download"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DownloadConfig tunes mirror runs.
type DownloadConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RetryCount  int           `mapstructure:"retry_count"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	RateLimit   float64       `mapstructure:"rate_limit"`
}

// StorageConfig holds connection defaults applied when a URI does not say
// otherwise.
type StorageConfig struct {
	// Provider is the backend serving s3:// URIs: "s3" (aws-sdk-go-v2) or
	// "minio" (minio-go, needs Endpoint).
	Provider       string `mapstructure:"provider"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// envBindings maps config keys to environment variable names.
var envBindings = map[string]string{
	"logging.level":            EnvPrefix + "_LOG_LEVEL",
	"download.concurrency":     EnvPrefix + "_CONCURRENCY",
	"download.retry_count":     EnvPrefix + "_RETRY_COUNT",
	"download.retry_delay":     EnvPrefix + "_RETRY_DELAY",
	"download.rate_limit":      EnvPrefix + "_RATE_LIMIT",
	"storage.provider":         EnvPrefix + "_PROVIDER",
	"storage.region":           EnvPrefix + "_REGION",
	"storage.endpoint":         EnvPrefix + "_ENDPOINT",
	"storage.profile":          EnvPrefix + "_PROFILE",
	"storage.force_path_style": EnvPrefix + "_FORCE_PATH_STYLE",
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("download.concurrency", 16)
	v.SetDefault("download.retry_count", 3)
	v.SetDefault("download.retry_delay", "1s")
	v.SetDefault("download.rate_limit", 0.0)
	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.force_path_style", false)
}

// Load resolves the configuration without an explicit config file.
// nimbusdl.yaml is still picked up from the working directory or
// $HOME/.config/nimbusdl when present.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile resolves the configuration, reading path when it is non-empty.
// A missing explicit file is an error; a missing default file is not.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nimbusdl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "nimbusdl"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "trace", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not a known level", c.Logging.Level))
	}
	if c.Download.Concurrency < 1 {
		problems = append(problems, "download.concurrency must be >= 1")
	}
	if c.Download.RetryCount < 0 {
		problems = append(problems, "download.retry_count must be >= 0")
	}
	if c.Download.RetryDelay < 0 {
		problems = append(problems, "download.retry_delay must be >= 0")
	}
	if c.Download.RateLimit < 0 {
		problems = append(problems, "download.rate_limit must be >= 0")
	}
	switch c.Storage.Provider {
	case "s3", "minio":
	default:
		problems = append(problems, fmt.Sprintf("storage.provider %q is not supported", c.Storage.Provider))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

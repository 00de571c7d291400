// Package config loads the service settings from flags, environment,
// an optional config file and a local .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. BGSWAP_CACHE_SIZE.
const EnvPrefix = "BGSWAP"

const (
	RemoverRembg     = "rembg"
	RemoverBorderKey = "borderkey"
)

type Config struct {
	Addr            string        `mapstructure:"addr"`
	Workers         int           `mapstructure:"workers"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	MaxPixels       int           `mapstructure:"max_pixels"`
	JPEGQuality     int           `mapstructure:"jpeg_quality"`
	RemovalTimeout  time.Duration `mapstructure:"removal_timeout"`
	Coalesce        bool          `mapstructure:"coalesce"`
	CORS            bool          `mapstructure:"cors"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Cache   CacheConfig   `mapstructure:"cache"`
	Remover RemoverConfig `mapstructure:"remover"`
	Log     LogConfig     `mapstructure:"log"`
}

type CacheConfig struct {
	Size  int           `mapstructure:"size"`
	TTL   time.Duration `mapstructure:"ttl"`
	Sweep string        `mapstructure:"sweep"`
}

type RemoverConfig struct {
	Kind      string        `mapstructure:"kind"`
	URL       string        `mapstructure:"url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Tolerance int           `mapstructure:"tolerance"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"addr":              ":5000",
	"workers":           4,
	"max_body_bytes":    int64(10 << 20),
	"max_pixels":        89_478_485,
	"jpeg_quality":      85,
	"removal_timeout":   time.Duration(0),
	"coalesce":          false,
	"cors":              false,
	"debug":             false,
	"shutdown_timeout":  10 * time.Second,
	"cache.size":        100,
	"cache.ttl":         time.Hour,
	"cache.sweep":       "@every 1m",
	"remover.kind":      RemoverRembg,
	"remover.url":       "http://127.0.0.1:7000",
	"remover.model":     "u2net",
	"remover.timeout":   2 * time.Minute,
	"remover.tolerance": 32,
	"log.level":         "info",
	"log.format":        "text",
}

// flags maps command line flag names onto config keys.
var flags = []struct {
	name, key, usage string
}{
	{"addr", "addr", "HTTP listen address"},
	{"workers", "workers", "number of background removal workers"},
	{"cache-size", "cache.size", "maximum number of cached results"},
	{"cache-ttl", "cache.ttl", "lifetime of a cached result"},
	{"remover", "remover.kind", "removal backend: rembg or borderkey"},
	{"remover-url", "remover.url", "base URL of the rembg server"},
	{"remover-model", "remover.model", "rembg model name"},
	{"coalesce", "coalesce", "share one removal between concurrent identical uploads"},
	{"cors", "cors", "allow cross-origin requests"},
	{"debug", "debug", "gin debug mode"},
	{"log-level", "log.level", "debug, info, warn or error"},
	{"log-format", "log.format", "text or json"},
}

// New returns a viper instance with every default set and the
// environment bound.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags defines the command line flags on cmd and binds them to v.
func RegisterFlags(cmd *cobra.Command, v *viper.Viper) error {
	set := cmd.Flags()
	for _, f := range flags {
		switch def := defaults[f.key].(type) {
		case string:
			set.String(f.name, def, f.usage)
		case int:
			set.Int(f.name, def, f.usage)
		case bool:
			set.Bool(f.name, def, f.usage)
		case time.Duration:
			set.Duration(f.name, def, f.usage)
		default:
			return fmt.Errorf("flag %s: unsupported default %T", f.name, def)
		}
		if err := v.BindPFlag(f.key, set.Lookup(f.name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", f.name, err)
		}
	}
	return nil
}

// Load reads .env and the optional config file, then decodes and
// validates the merged settings.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be within 1-100, got %d", c.JPEGQuality))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if c.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels))
	}
	if c.RemovalTimeout < 0 {
		errs = append(errs, fmt.Errorf("removal_timeout must not be negative, got %s", c.RemovalTimeout))
	}
	switch c.Remover.Kind {
	case RemoverRembg:
		if c.Remover.URL == "" {
			errs = append(errs, errors.New("remover.url is required for the rembg remover"))
		}
	case RemoverBorderKey:
	default:
		errs = append(errs, fmt.Errorf("unknown remover.kind %q", c.Remover.Kind))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

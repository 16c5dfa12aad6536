// Package config loads the CLI and server configuration with layered
// precedence: environment variables over an optional YAML file over built-in
// defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/hupe1980/imgsieve"
	"github.com/hupe1980/imgsieve/session"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "IMGSIEVE_CONFIG"

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"imgsieve.yaml",
	"imgsieve.yml",
	"/etc/imgsieve/config.yaml",
}

// Config is the full configuration tree.
type Config struct {
	Collection CollectionConfig `koanf:"collection"`
	Processing ProcessingConfig `koanf:"processing"`
	Session    SessionConfig    `koanf:"session"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// CollectionConfig locates the processed collection.
type CollectionConfig struct {
	// Dir is the processed collection directory (manifest, features, index).
	Dir string `koanf:"dir"`

	// ImageBaseURL is prepended to image ids for thumbnail URLs served by
	// the API. Empty disables URL construction.
	ImageBaseURL string `koanf:"image_base_url"`
}

// ProcessingConfig drives the one-time collection processing.
type ProcessingConfig struct {
	// FeatureBudget is the number of concepts kept per compressed feature.
	FeatureBudget int `koanf:"feature_budget"`

	// NumSegments splits each vector for product quantization. Must divide
	// the feature dimensionality.
	NumSegments int `koanf:"num_segments"`

	// NumCentroids per segment codebook; 0 selects sqrt(n) automatically.
	NumCentroids int `koanf:"num_centroids"`

	// Seed fixes the codebook training randomness.
	Seed int64 `koanf:"seed"`
}

// SessionConfig sets the defaults for new triage sessions.
type SessionConfig struct {
	GridRows         int     `koanf:"grid_rows"`
	GridCols         int     `koanf:"grid_cols"`
	RandomSuggChance float64 `koanf:"random_sugg_chance"`
	ALRatio          float64 `koanf:"al_ratio"`
	Seed             int64   `koanf:"seed"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr"`

	// RateLimit and Burst bound requests per second per session.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Collection: CollectionConfig{
			Dir: "./collection",
		},
		Processing: ProcessingConfig{
			FeatureBudget: 50,
			NumSegments:   32,
			NumCentroids:  0,
			Seed:          1,
		},
		Session: SessionConfig{
			GridRows:         session.DefaultGridRows,
			GridCols:         session.DefaultGridCols,
			RandomSuggChance: session.DefaultRandomSuggChance,
			ALRatio:          session.DefaultALRatio,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 20,
			Burst:     40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load assembles the configuration: defaults, then the config file when one
// exists, then IMGSIEVE_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("IMGSIEVE_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.Processing.FeatureBudget < 1 {
		return fmt.Errorf("processing.feature_budget must be positive, got %d", c.Processing.FeatureBudget)
	}
	if c.Processing.NumSegments < 1 {
		return fmt.Errorf("processing.num_segments must be positive, got %d", c.Processing.NumSegments)
	}
	if c.Session.GridRows < 1 || c.Session.GridRows > session.MaxGridRows {
		return fmt.Errorf("session.grid_rows must be in [1,%d], got %d", session.MaxGridRows, c.Session.GridRows)
	}
	if c.Session.GridCols < 1 || c.Session.GridCols > session.MaxGridCols {
		return fmt.Errorf("session.grid_cols must be in [1,%d], got %d", session.MaxGridCols, c.Session.GridCols)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %g", c.Server.RateLimit)
	}
	if _, err := c.Logging.slogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Logger builds the logger the configuration describes.
func (c *Config) Logger() (*imgsieve.Logger, error) {
	level, err := c.Logging.slogLevel()
	if err != nil {
		return nil, err
	}

	if c.Logging.Format == "json" {
		return imgsieve.NewJSONLogger(level), nil
	}
	return imgsieve.NewTextLogger(level), nil
}

func (l LoggingConfig) slogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransform maps IMGSIEVE_* variables onto config paths, e.g.
// IMGSIEVE_COLLECTION_DIR -> collection.dir. Unknown variables are skipped so
// unrelated environment noise never reaches the config.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "IMGSIEVE_"))

	mappings := map[string]string{
		"collection_dir": "collection.dir",
		"image_base_url": "collection.image_base_url",

		"feature_budget": "processing.feature_budget",
		"num_segments":   "processing.num_segments",
		"num_centroids":  "processing.num_centroids",
		"build_seed":     "processing.seed",

		"grid_rows":          "session.grid_rows",
		"grid_cols":          "session.grid_cols",
		"random_sugg_chance": "session.random_sugg_chance",
		"al_ratio":           "session.al_ratio",
		"session_seed":       "session.seed",

		"addr":       "server.addr",
		"rate_limit": "server.rate_limit",
		"rate_burst": "server.burst",

		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}

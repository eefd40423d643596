// Package config loads the tillsync configuration: YAML file, TILLSYNC_*
// environment overlay, embedded CUE schema validation, typed result.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// DefaultPath is probed when no --config flag is given. A missing file
// at the default path is not an error; everything has a default except
// the server URL, which the schema then rejects as empty.
const DefaultPath = "tillsync.yaml"

// Config is the validated runtime configuration.
type Config struct {
	ServerURL      string
	ServerToken    string
	StorePath      string
	SyncInterval   time.Duration
	MinSyncGap     time.Duration
	RequestTimeout time.Duration
	RetentionKeep  int
	LogLevel       slog.Level
}

// fileConfig mirrors the YAML layout. Durations stay strings until the
// schema has accepted them; json tags feed the CUE encoder.
type fileConfig struct {
	Server struct {
		URL   string `yaml:"url" json:"url"`
		Token string `yaml:"token" json:"token,omitempty"`
	} `yaml:"server" json:"server"`
	Store struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"store" json:"store"`
	Sync struct {
		Interval string `yaml:"interval" json:"interval,omitempty"`
		MinGap   string `yaml:"min_gap" json:"min_gap,omitempty"`
		Timeout  string `yaml:"timeout" json:"timeout,omitempty"`
	} `yaml:"sync" json:"sync"`
	Retention struct {
		Keep int `yaml:"keep" json:"keep"`
	} `yaml:"retention" json:"retention"`
	Log struct {
		Level string `yaml:"level" json:"level,omitempty"`
	} `yaml:"log" json:"log"`
}

// Load reads the config file at path, overlays TILLSYNC_* environment
// variables (a .env file is honored when present), validates against the
// embedded schema, and returns the typed configuration.
//
// An empty path probes DefaultPath and tolerates its absence; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	godotenv.Load() //nolint:errcheck // .env is optional

	var fc fileConfig
	probe := path == ""
	if probe {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case probe && os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	overlayEnv(&fc)
	applyDefaults(&fc)

	if err := validate(fc); err != nil {
		return nil, err
	}
	return typed(fc)
}

func overlayEnv(fc *fileConfig) {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	set("TILLSYNC_SERVER_URL", &fc.Server.URL)
	set("TILLSYNC_SERVER_TOKEN", &fc.Server.Token)
	set("TILLSYNC_STORE_PATH", &fc.Store.Path)
	set("TILLSYNC_SYNC_INTERVAL", &fc.Sync.Interval)
	set("TILLSYNC_SYNC_MIN_GAP", &fc.Sync.MinGap)
	set("TILLSYNC_SYNC_TIMEOUT", &fc.Sync.Timeout)
	set("TILLSYNC_LOG_LEVEL", &fc.Log.Level)
	if v, ok := os.LookupEnv("TILLSYNC_RETENTION_KEEP"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			fc.Retention.Keep = n
		}
	}
}

func applyDefaults(fc *fileConfig) {
	if fc.Store.Path == "" {
		fc.Store.Path = "till.db"
	}
	if fc.Sync.Interval == "" {
		fc.Sync.Interval = "30s"
	}
	if fc.Sync.MinGap == "" {
		fc.Sync.MinGap = "3s"
	}
	if fc.Sync.Timeout == "" {
		fc.Sync.Timeout = "10s"
	}
	if fc.Retention.Keep == 0 {
		fc.Retention.Keep = 200
	}
	if fc.Log.Level == "" {
		fc.Log.Level = "info"
	}
}

// validate unifies the populated config with #Config from schema.cue.
func validate(fc fileConfig) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}

	unified := def.Unify(ctx.Encode(fc))
	if err := unified.Validate(cue.Final()); err != nil {
		return fmt.Errorf("config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

func typed(fc fileConfig) (*Config, error) {
	cfg := &Config{
		ServerURL:     fc.Server.URL,
		ServerToken:   fc.Server.Token,
		StorePath:     fc.Store.Path,
		RetentionKeep: fc.Retention.Keep,
	}

	var err error
	if cfg.SyncInterval, err = time.ParseDuration(fc.Sync.Interval); err != nil {
		return nil, fmt.Errorf("config: sync.interval: %w", err)
	}
	if cfg.MinSyncGap, err = time.ParseDuration(fc.Sync.MinGap); err != nil {
		return nil, fmt.Errorf("config: sync.min_gap: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(fc.Sync.Timeout); err != nil {
		return nil, fmt.Errorf("config: sync.timeout: %w", err)
	}

	switch fc.Log.Level {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	}
	return cfg, nil
}

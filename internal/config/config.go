// Package config loads the engine configuration.
//
// Values are layered, lowest precedence first: defaults from New, an
// optional YAML file named by HAXSTATS_CONFIG, then HAXSTATS_* environment
// variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/edvart/haxstats/internal/store"
)

const (
	EnvPrefix = "HAXSTATS_"
	EnvFile   = EnvPrefix + "CONFIG"
)

var (
	ErrLoadConfig    = errors.New("load config failed")
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	// Addr is the HTTP listen address. Empty disables the HTTP surface.
	Addr string `koanf:"addr"`

	DatabasePath string `koanf:"database_path" validate:"required"`
	// BackupDir defaults to a backups directory next to the database.
	BackupDir string `koanf:"backup_dir"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	RankLimit int `koanf:"rank_limit" validate:"min=1,max=100"`

	// Admin routes are disabled unless a password is set.
	AdminUser     string `koanf:"admin_user" validate:"required_with=AdminPassword"`
	AdminPassword string `koanf:"admin_password"`

	// FeedPath is a JSONL event file to consume at startup, or "-" for stdin.
	FeedPath string `koanf:"feed_path"`

	SyntheticPrefixes []string `koanf:"synthetic_prefixes" validate:"dive,required"`

	TouchDebounceMS int `koanf:"touch_debounce_ms" validate:"min=1"`
	AssistWindowMS  int `koanf:"assist_window_ms" validate:"min=1"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Addr:              ":8080",
		DatabasePath:      "./data/haxstats.db",
		LogLevel:          "info",
		LogFormat:         "text",
		RankLimit:         10,
		AdminUser:         "admin",
		SyntheticPrefixes: append([]string(nil), store.DefaultSyntheticPrefixes...),
		TouchDebounceMS:   50,
		AssistWindowMS:    3000,
	}
}

func (c *Config) TouchDebounce() time.Duration {
	return time.Duration(c.TouchDebounceMS) * time.Millisecond
}

func (c *Config) AssistWindow() time.Duration {
	return time.Duration(c.AssistWindowMS) * time.Millisecond
}

// BackupDirectory resolves the backup directory.
func (c *Config) BackupDirectory() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DatabasePath), "backups")
}

func (c *Config) AdminEnabled() bool {
	return c.AdminPassword != ""
}

// Load builds a Config from defaults, the optional file and the environment.
func Load() (*Config, error) {
	return load(os.Getenv(EnvFile))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read %s", path), ErrLoadConfig)
		}
	}

	// HAXSTATS_RANK_LIMIT -> rank_limit
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read environment"), ErrLoadConfig)
	}

	cfg := New()
	if k.Exists("synthetic_prefixes") {
		cfg.SyntheticPrefixes = nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode config"), ErrLoadConfig)
	}
	cfg.SyntheticPrefixes = splitList(cfg.SyntheticPrefixes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Mark(errors.Wrap(err, "validate config"), ErrInvalidConfig)
	}
	return nil
}

// splitList flattens comma separated entries, which is how lists arrive
// from the environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

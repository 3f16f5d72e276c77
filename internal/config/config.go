package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all affinity configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Graph    GraphConfig    `toml:"graph" yaml:"graph"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind" yaml:"bind" validate:"required"`
	Port int    `toml:"port" yaml:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path"` // empty: store.DefaultDBPath()
}

type GraphConfig struct {
	MinScore             int `toml:"min_score" yaml:"min_score" validate:"min=1"`
	MaxAutoLinks         int `toml:"max_auto_links" yaml:"max_auto_links" validate:"min=1"`
	BatchSize            int `toml:"batch_size" yaml:"batch_size" validate:"min=1"`
	Workers              int `toml:"workers" yaml:"workers" validate:"min=1,max=64"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes" yaml:"sweep_interval_minutes" validate:"min=1"`
	CacheTTLSeconds      int `toml:"cache_ttl_seconds" yaml:"cache_ttl_seconds" validate:"min=1"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Env   string `toml:"env" yaml:"env" validate:"oneof=development production"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Graph: GraphConfig{
			MinScore:             30,
			MaxAutoLinks:         10,
			BatchSize:            50,
			Workers:              4,
			SweepIntervalMinutes: 60,
			CacheTTLSeconds:      3600,
		},
		Log: LogConfig{
			Level: "info",
			Env:   "development",
		},
	}
}

// Load builds the configuration: defaults, then the file at path (if any),
// then .env and process environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(c)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("AFFINITY_DB"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("AFFINITY_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := getenv("AFFINITY_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("AFFINITY_ENV"); v != "" {
		c.Log.Env = strings.ToLower(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"AFFINITY_PORT", &c.Server.Port},
		{"AFFINITY_BATCH_SIZE", &c.Graph.BatchSize},
		{"AFFINITY_WORKERS", &c.Graph.Workers},
	}
	for _, e := range ints {
		v := getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// SweepInterval is the period of the scheduled sweep timer.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Graph.SweepIntervalMinutes) * time.Minute
}

// CacheTTL is the lifetime of the cached graph view.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Graph.CacheTTLSeconds) * time.Second
}

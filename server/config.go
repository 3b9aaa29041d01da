package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const defaultPostgresDSN = "postgres://postgres:postgres@db:5432/epitrello?sslmode=disable"

type Config struct {
	Addr      string          `mapstructure:"addr"`
	Store     StoreConfig     `mapstructure:"store"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Relay     RelayConfig     `mapstructure:"relay"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Web       WebConfig       `mapstructure:"web"`
}

type StoreConfig struct {
	// Driver is file, postgres or sqlite.
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	DataDir string `mapstructure:"data_dir"`
}

type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type AuthConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RelayConfig struct {
	Buffer          int    `mapstructure:"buffer"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"`
	NATSURL         string `mapstructure:"nats_url"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TemplatesConfig struct {
	Seed bool `mapstructure:"seed"`
}

type WebConfig struct {
	Dir string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":5000")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max_bytes", 10<<20)
	v.SetDefault("auth.session_ttl", 14*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("relay.buffer", 32)
	v.SetDefault("relay.max_message_bytes", 64<<10)
	v.SetDefault("relay.nats_url", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("templates.seed", true)
	v.SetDefault("web.dir", "")
}

// loadConfig layers defaults, the optional YAML file at path and the
// environment. EPITRELLO_STORE_DSN style names map onto nested keys; ADDR and
// DATABASE_URL are honoured as well.
func loadConfig(path string) (*viper.Viper, *Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("EPITRELLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("addr", "EPITRELLO_ADDR", "ADDR")
	_ = v.BindEnv("store.dsn", "EPITRELLO_STORE_DSN", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}
	cfg, err := decodeConfig(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	switch cfg.Store.Driver {
	case "file", "sqlite":
	case "postgres":
		if cfg.Store.DSN == "" {
			cfg.Store.DSN = defaultPostgresDSN
		}
	default:
		return nil, fmt.Errorf("store.driver %q: want file, postgres or sqlite", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "epitrello.db"
	}
	if cfg.Relay.Buffer <= 0 {
		cfg.Relay.Buffer = 1
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// watchConfig re-reads log.level whenever the config file changes. Other keys
// need a restart.
func watchConfig(v *viper.Viper, level *slog.LevelVar, log *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l, err := parseLevel(v.GetString("log.level"))
		if err != nil {
			log.Warn("config reload", "file", e.Name, "err", err)
			return
		}
		level.Set(l)
		log.Info("config reloaded", "file", e.Name, "log_level", l.String())
	})
	v.WatchConfig()
}

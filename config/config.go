// Package config loads the relay server settings from an optional TOML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	StoreNone   = "none"
	StoreDynamo = "dynamo"
	StoreSQLite = "sqlite"

	QueueMemory = "memory"
	QueueSQS    = "sqs"
)

// Duration reads TOML strings such as "30m" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	DevMode bool `toml:"dev_mode"`

	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
	Store  StoreConfig  `toml:"store"`
	Queue  QueueConfig  `toml:"queue"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Advertise      bool     `toml:"advertise"`
}

type CacheConfig struct {
	Driver   string   `toml:"driver"`
	Endpoint string   `toml:"endpoint"`
	TTL      Duration `toml:"ttl"`
}

type StoreConfig struct {
	Driver   string `toml:"driver"`
	Endpoint string `toml:"endpoint"`
	Table    string `toml:"table"`
	Path     string `toml:"path"`
}

type QueueConfig struct {
	Driver   string `toml:"driver"`
	Endpoint string `toml:"endpoint"`
	Name     string `toml:"name"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default runs everything in memory on port 8080.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Cache:  CacheConfig{Driver: CacheMemory, TTL: Duration{24 * time.Hour}},
		Store:  StoreConfig{Driver: StoreNone, Table: "Pageboard", Path: "pageboard.db"},
		Queue:  QueueConfig{Driver: QueueMemory, Name: "PurgePageQueue"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DEV_MODE"); v != "" {
		cfg.DevMode = v == "true"
	}
	if v := getenv("HOST_PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := getenv("ALLOWED_ORIGIN"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := getenv("REDIS_ENDPOINT"); v != "" {
		cfg.Cache.Driver = CacheRedis
		cfg.Cache.Endpoint = v
	}
	if v := getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Store.Driver = StoreDynamo
		cfg.Store.Endpoint = v
	}
	if v := getenv("SQS_ENDPOINT"); v != "" {
		cfg.Queue.Driver = QueueSQS
		cfg.Queue.Endpoint = v
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (cfg Config) Validate() error {
	switch cfg.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if cfg.Cache.Endpoint == "" {
			return fmt.Errorf("%w: redis cache needs an endpoint", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache driver %q", ErrInvalidConfig, cfg.Cache.Driver)
	}

	switch cfg.Store.Driver {
	case StoreNone:
	case StoreDynamo:
		if cfg.Store.Table == "" {
			return fmt.Errorf("%w: dynamo store needs a table", ErrInvalidConfig)
		}
	case StoreSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("%w: sqlite store needs a path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.Store.Driver)
	}

	switch cfg.Queue.Driver {
	case QueueMemory:
	case QueueSQS:
		if cfg.Queue.Name == "" {
			return fmt.Errorf("%w: sqs queue needs a name", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown queue driver %q", ErrInvalidConfig, cfg.Queue.Driver)
	}

	return nil
}

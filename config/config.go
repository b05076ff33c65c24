/*
Package config loads the process configuration.

SOURCES (later wins):
  1. defaults below
  2. optional YAML file (--config)
  3. environment, prefix NATION_ with dots as underscores
     (server.port -> NATION_SERVER_PORT)
  4. command-line flags bound by cmd/server

EXAMPLE FILE:
  server:
    port: 8080
  database:
    path: ./data/nation.db
  clock:
    sim_epoch: "2040-01-01T00:00:00Z"
    wall_epoch: "2026-01-01T00:00:00Z"
    rate: 4
  scheduler:
    enabled: true
    interval: 1h
  log:
    level: debug
    format: json
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/warp/nation-engine/economy"
)

const EnvPrefix = "NATION"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Queues    QueuesConfig    `mapstructure:"queues"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ClockConfig maps wall time to simulated time: at WallEpoch the simulated
// clock reads SimEpoch and then advances Rate times faster than wall time.
type ClockConfig struct {
	SimEpoch  string  `mapstructure:"sim_epoch"`
	WallEpoch string  `mapstructure:"wall_epoch"`
	Rate      float64 `mapstructure:"rate"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type QueueConfig struct {
	Size    int `mapstructure:"size"`
	Workers int `mapstructure:"workers"`
}

type QueuesConfig struct {
	Feed       QueueConfig `mapstructure:"feed"`
	Evaluation QueueConfig `mapstructure:"evaluation"`
}

type EngineConfig struct {
	CacheSize   int `mapstructure:"cache_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// CatalogConfig overrides the embedded catalog documents. Empty means default.
type CatalogConfig struct {
	Tiers        string `mapstructure:"tiers"`
	Milestones   string `mapstructure:"milestones"`
	Achievements string `mapstructure:"achievements"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance carrying the defaults and env binding.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("database.path", "./data/nation.db")
	v.SetDefault("clock.sim_epoch", "2040-01-01T00:00:00Z")
	v.SetDefault("clock.wall_epoch", "2026-01-01T00:00:00Z")
	v.SetDefault("clock.rate", 1.0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("queues.feed.size", 256)
	v.SetDefault("queues.feed.workers", 2)
	v.SetDefault("queues.evaluation.size", 256)
	v.SetDefault("queues.evaluation.workers", 2)
	v.SetDefault("engine.cache_size", 1024)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("catalog.tiers", "")
	v.SetDefault("catalog.milestones", "")
	v.SetDefault("catalog.achievements", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Clock.Rate <= 0 {
		errs = append(errs, fmt.Errorf("clock.rate must be positive"))
	}
	if _, err := c.Clock.Build(); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be positive"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Build parses the epochs into a running simulated clock.
func (c ClockConfig) Build() (*economy.Clock, error) {
	sim, err := time.Parse(time.RFC3339, c.SimEpoch)
	if err != nil {
		return nil, fmt.Errorf("clock.sim_epoch: %w", err)
	}
	wall, err := time.Parse(time.RFC3339, c.WallEpoch)
	if err != nil {
		return nil, fmt.Errorf("clock.wall_epoch: %w", err)
	}
	return economy.NewClock(economy.SimTimeOf(sim), wall, c.Rate), nil
}

// NewLogger builds the process logger.
func (c LogConfig) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

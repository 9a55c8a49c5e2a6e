package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// config is the worker process's full tunable surface (spec §6's
// per-worker configuration surface).
type config struct {
	WorkerID           string        `toml:"worker_id"`
	CoordinatorURL     string        `toml:"coordinator_url"`
	PollInterval       time.Duration `toml:"poll_interval"`
	HeartbeatInterval  time.Duration `toml:"heartbeat_interval"`
	CacheDir           string        `toml:"cache_dir"`
	CacheTTL           time.Duration `toml:"cache_ttl"`
	CacheRetryInterval time.Duration `toml:"cache_retry_interval"`
	LogJSON            bool          `toml:"log_json"`
}

func defaultConfig() config {
	return config{
		WorkerID:           "worker-" + uuid.NewString(),
		CoordinatorURL:     "http://127.0.0.1:8080",
		PollInterval:       5 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		CacheDir:           "distqueue-worker-cache",
		CacheTTL:           time.Hour,
		CacheRetryInterval: 20 * time.Second,
	}
}

func loadConfig(c *cli.Context) (config, error) {
	cfg := defaultConfig()

	if path := c.String("config"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return config{}, fmt.Errorf("worker: decode config %s: %w", path, err)
		}
	}

	if c.IsSet("worker-id") {
		cfg.WorkerID = c.String("worker-id")
	}
	if c.IsSet("coordinator") {
		cfg.CoordinatorURL = c.String("coordinator")
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = c.Duration("poll-interval")
	}
	if c.IsSet("heartbeat-interval") {
		cfg.HeartbeatInterval = c.Duration("heartbeat-interval")
	}
	if c.IsSet("cache-dir") {
		cfg.CacheDir = c.String("cache-dir")
	}
	if c.IsSet("cache-ttl") {
		cfg.CacheTTL = c.Duration("cache-ttl")
	}
	if c.IsSet("cache-retry-interval") {
		cfg.CacheRetryInterval = c.Duration("cache-retry-interval")
	}
	if c.IsSet("log-json") {
		cfg.LogJSON = c.Bool("log-json")
	}

	if cfg.WorkerID == "" {
		return config{}, fmt.Errorf("worker: worker_id must not be empty")
	}
	if cfg.CoordinatorURL == "" {
		return config{}, fmt.Errorf("worker: coordinator_url must not be empty")
	}
	return cfg, nil
}

var flags = []cli.Flag{
	&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
	&cli.StringFlag{Name: "worker-id", Usage: "stable worker identity (default: random uuid)"},
	&cli.StringFlag{Name: "coordinator", Usage: "coordinator base URL"},
	&cli.DurationFlag{Name: "poll-interval", Usage: "delay between claim attempts while idle"},
	&cli.DurationFlag{Name: "heartbeat-interval", Usage: "heartbeat period"},
	&cli.StringFlag{Name: "cache-dir", Usage: "durable submission cache directory"},
	&cli.DurationFlag{Name: "cache-ttl", Usage: "max age of a cached result before it is dropped"},
	&cli.DurationFlag{Name: "cache-retry-interval", Usage: "delay between cache redelivery sweeps"},
	&cli.BoolFlag{Name: "log-json", Usage: "emit structured JSON logs instead of the terminal format"},
}

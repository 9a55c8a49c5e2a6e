package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// config is the coordinator process's full tunable surface (spec §6's
// configuration surface plus the ambient logging/metrics knobs).
type config struct {
	ListenAddr           string        `toml:"listen_addr"`
	StorePath            string        `toml:"store_path"`
	MonitorTick          time.Duration `toml:"monitor_tick"`
	WorkerDeadAfter      time.Duration `toml:"worker_dead_after"`
	DefaultLeaseDuration time.Duration `toml:"default_lease_duration"`
	LogJSON              bool          `toml:"log_json"`
}

func defaultConfig() config {
	return config{
		ListenAddr:           ":8080",
		StorePath:            "distqueue-coordinator.db",
		MonitorTick:          time.Second,
		WorkerDeadAfter:      60 * time.Second,
		DefaultLeaseDuration: 120 * time.Second,
	}
}

// loadConfig reads an optional TOML file, then overlays any flags the
// caller explicitly set on the CLI — flags win over file, file wins over
// built-in defaults, matching the teacher's geth config-dump convention.
func loadConfig(c *cli.Context) (config, error) {
	cfg := defaultConfig()

	if path := c.String("config"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return config{}, fmt.Errorf("coordinator: decode config %s: %w", path, err)
		}
	}

	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("store") {
		cfg.StorePath = c.String("store")
	}
	if c.IsSet("monitor-tick") {
		cfg.MonitorTick = c.Duration("monitor-tick")
	}
	if c.IsSet("worker-dead-after") {
		cfg.WorkerDeadAfter = c.Duration("worker-dead-after")
	}
	if c.IsSet("default-lease") {
		cfg.DefaultLeaseDuration = c.Duration("default-lease")
	}
	if c.IsSet("log-json") {
		cfg.LogJSON = c.Bool("log-json")
	}

	if cfg.ListenAddr == "" {
		return config{}, fmt.Errorf("coordinator: listen_addr must not be empty")
	}
	if cfg.StorePath == "" {
		return config{}, fmt.Errorf("coordinator: store_path must not be empty")
	}
	return cfg, nil
}

var flags = []cli.Flag{
	&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
	&cli.StringFlag{Name: "listen", Usage: "HTTP listen address"},
	&cli.StringFlag{Name: "store", Usage: "bolt store file path"},
	&cli.DurationFlag{Name: "monitor-tick", Usage: "monitor loop tick interval"},
	&cli.DurationFlag{Name: "worker-dead-after", Usage: "heartbeat staleness before a worker is marked dead"},
	&cli.DurationFlag{Name: "default-lease", Usage: "default claim lease duration"},
	&cli.BoolFlag{Name: "log-json", Usage: "emit structured JSON logs instead of the terminal format"},
}

// Command worker runs a distqueue worker process: the claim/execute/submit
// loop of internal/worker against a coordinator reachable over HTTP, with
// a durable on-disk submission cache for outage resilience.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/distqueue/distqueue/internal/api"
	"github.com/distqueue/distqueue/internal/logging"
	"github.com/distqueue/distqueue/internal/worker"
	"github.com/distqueue/distqueue/internal/worker/cache"
	"github.com/distqueue/distqueue/internal/worker/executors"
)

func main() {
	app := &cli.App{
		Name:  "worker",
		Usage: "distqueue task-queue worker",
		Flags: flags,
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		logging.Root().Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if cfg.LogJSON {
		logging.SetRoot(logging.NewWithHandler(logging.NewJSONHandler(os.Stdout)))
	}
	log := logging.New("component", "cmd/worker", "worker_id", cfg.WorkerID)

	submissionCache, err := cache.Open(cfg.CacheDir)
	if err != nil {
		log.Error("failed to open submission cache (configuration error)", "dir", cfg.CacheDir, "err", err)
		return err
	}
	defer submissionCache.Close()

	client := api.NewClient(cfg.CoordinatorURL, 10*time.Second)
	submitClient := client.WithTimeout(60 * time.Second)

	registry := worker.NewRegistry(map[string]worker.Executor{
		"prime": executors.Prime(100000),
	})

	// Worker takes a single client; it is built with the longer Submit
	// timeout (spec §5) since SubmitResult is the one call that actually
	// needs headroom for large result blobs and slow networks.
	wCfg := worker.Config{
		WorkerID:           cfg.WorkerID,
		PollInterval:       cfg.PollInterval,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		CacheRetryInterval: cfg.CacheRetryInterval,
		CacheTTL:           cfg.CacheTTL,
	}
	w := worker.New(wCfg, submitClient, registry, submissionCache)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker starting", "coordinator", cfg.CoordinatorURL, "cache_dir", cfg.CacheDir)
	if err := w.Run(ctx); err != nil {
		log.Error("worker loop exited with error", "err", err)
		return err
	}
	log.Info("worker stopped cleanly after cache drain")
	return nil
}

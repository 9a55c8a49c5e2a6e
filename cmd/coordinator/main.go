// Command coordinator runs the task-queue coordinator process: the REST
// API of internal/api over an internal/coordinator.Coordinator backed by
// internal/taskdb/boltstore, plus the monitor loop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/distqueue/distqueue/internal/api"
	"github.com/distqueue/distqueue/internal/coordinator"
	"github.com/distqueue/distqueue/internal/logging"
	"github.com/distqueue/distqueue/internal/metrics"
	"github.com/distqueue/distqueue/internal/taskdb/boltstore"
)

func main() {
	app := &cli.App{
		Name:  "coordinator",
		Usage: "distqueue task-queue coordinator",
		Flags: flags,
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		logging.Root().Error("coordinator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		// Configuration error: spec §6 calls for a non-zero exit, but this
		// is caught before any resource is opened so a plain error return
		// (os.Exit(1) in main) is sufficient here.
		return err
	}

	if cfg.LogJSON {
		logging.SetRoot(logging.NewWithHandler(logging.NewJSONHandler(os.Stdout)))
	}
	log := logging.New("component", "cmd/coordinator")

	store, err := boltstore.Open(cfg.StorePath)
	if err != nil {
		log.Crit("failed to open store", "path", cfg.StorePath, "err", err)
	}
	defer store.Close()

	reg := metrics.New()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(reg))

	coord := coordinator.New(store, coordinator.Config{
		DefaultLeaseDuration: cfg.DefaultLeaseDuration,
		WorkerDeadAfter:      cfg.WorkerDeadAfter,
		MonitorTick:          cfg.MonitorTick,
	}, reg, nil)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(coord, promReg),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go coord.Monitor(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", "addr", cfg.ListenAddr, "store", cfg.StorePath)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("listen failed, likely a bind failure", "err", err)
			return err
		}
	case <-ctx.Done():
		log.Info("signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return err
		}
	}

	log.Info("coordinator stopped cleanly")
	return nil
}

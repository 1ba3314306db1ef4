package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/loadtoy/dashboard/internal/config"
	"github.com/loadtoy/dashboard/internal/controller"
	"github.com/loadtoy/dashboard/internal/logging"
	"github.com/loadtoy/dashboard/internal/pool"
	"github.com/loadtoy/dashboard/internal/process"
	"github.com/loadtoy/dashboard/internal/runs"
	"github.com/loadtoy/dashboard/internal/server"
	"github.com/loadtoy/dashboard/internal/shapes"
	"github.com/loadtoy/dashboard/internal/status"
	"github.com/loadtoy/dashboard/internal/target"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	var api target.Client
	if cfg.Target.Mock {
		log.Info("Using MOCK workload target (target.mock=true)")
		api = target.NewMockClient()
	} else if cfg.Target.URL != "" {
		log.Infof("Relaying workload target at %s", cfg.Target.URL)
		api = target.NewHTTPClient(cfg.Target.URL, cfg.Target.Token, cfg.Target.Timeout)
	}

	poolSource, err := pool.New(cfg.Pool.Source, cfg.Pool.DSN, api)
	if err != nil {
		return err
	}
	if sqlSource, ok := poolSource.(*pool.SQLSource); ok {
		defer sqlSource.Close()
	}

	registry := runs.NewRegistry(logging.For("registry"))
	ctl := controller.New(
		registry,
		shapes.Builtin(),
		process.NewExecSpawner(cfg.K6.KillGrace, logging.For("process")),
		status.NewProjector(registry, poolSource, 0),
		k6Options(cfg.K6),
		logging.For("controller"),
	)
	if err := ctl.PrepareSummaries(); err != nil {
		return err
	}
	srv := server.NewServer(ctl, poolSource, api, logging.For("server"))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Infof("Received signal %v, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
		if n := ctl.StopAll(); n > 0 {
			log.Infof("Waiting for %d running k6 tests to stop", n)
			waitForRuns(ctx, registry)
		}
	}()

	log.WithFields(log.Fields{
		"mode":    cfg.K6.Mode,
		"scripts": cfg.K6.ScriptsPath,
		"baseURL": cfg.K6.BaseURL,
		"pool":    cfg.Pool.Source,
	}).Infof("Starting load test dashboard on %s", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	log.Info("Server stopped.")
	return nil
}

func waitForRuns(ctx context.Context, registry *runs.Registry) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for len(registry.Snapshot().Running) > 0 {
		select {
		case <-ctx.Done():
			log.Warnf("%d k6 tests still running at exit", len(registry.Snapshot().Running))
			return
		case <-ticker.C:
		}
	}
}

func k6Options(c config.K6Config) controller.K6Options {
	return controller.K6Options{
		Mode:              c.Mode,
		Binary:            c.Binary,
		DockerCommand:     c.Docker.Command,
		Image:             c.Docker.Image,
		Network:           c.Docker.Network,
		ScriptsPath:       c.ScriptsPath,
		BaseURL:           c.BaseURL,
		OpenEndedDuration: c.OpenEndedDuration,
		SummaryDir:        c.SummaryDir,
		SummaryRetention:  c.SummaryRetention,
	}
}

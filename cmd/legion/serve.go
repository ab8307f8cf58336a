package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/loykin/legion"
	"github.com/loykin/legion/internal/logger"
)

// apiShutdownTimeout bounds draining in-flight API requests on exit.
const apiShutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, f ServeFlags) error {
	cfg, err := legion.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer, err := logger.New(cfg.Logger())
	if err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	return serve(ctx, cfg, log)
}

// serve runs the supervisor until ctx is done, a shutdown signal arrives or
// the API listener fails, then stops every active daemon.
func serve(ctx context.Context, cfg *legion.Config, log *slog.Logger) error {
	kvs, err := cfg.GlobalEnv()
	if err != nil {
		return fmt.Errorf("error loading env files: %w", err)
	}
	sinks, err := legion.NewHistorySinks(cfg.History.DSN, log)
	if err != nil {
		return fmt.Errorf("error opening history sinks: %w", err)
	}
	mgr := legion.New(cfg.Manager(),
		legion.WithLogger(log),
		legion.WithHistory(sinks...),
		legion.WithEnv(kvs),
	)
	defer func() {
		if err := mgr.CloseHistory(); err != nil {
			log.Warn("closing history sinks", "error", err)
		}
	}()

	ctx, stop := mgr.WatchSignals(ctx)
	defer stop()

	if err := legion.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}
	usage := legion.NewUsageCollector(cfg.Metrics.UsageInterval, log)
	if err := usage.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register usage metrics", "error", err)
	}
	usage.Start(ctx, mgr.ActivePIDs)
	defer usage.Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		metricsSrv = legion.NewMetricsServer(cfg.Metrics.Listen)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if err := mgr.Bootstrap(ctx, cfg.Definitions()); err != nil {
		log.Warn("some configured daemons failed to come up", "error", err)
	}

	srv, err := legion.NewHTTPServer(cfg.Server.Listen, legion.NewHTTPHandler(mgr, cfg.Server.BasePath, usage), cfg.TLS())
	if err != nil {
		errs := multierr.Combine(fmt.Errorf("failed to create API server: %w", err), closeServer(metricsSrv))
		return multierr.Append(errs, mgr.Shutdown(context.Background()))
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if legion.TLSEnabled(srv) {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("legion supervisor started",
		"listen", cfg.Server.Listen,
		"base_path", cfg.Server.BasePath,
		"tls", legion.TLSEnabled(srv),
		"daemons_dir", cfg.DaemonsDir,
		"log_dir", cfg.LogDir)

	var errs error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		errs = fmt.Errorf("API server: %w", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer cancel()
	errs = multierr.Append(errs, srv.Shutdown(sctx))
	errs = multierr.Append(errs, closeServer(metricsSrv))
	// daemons get their own stop timeouts; the API deadline does not apply
	errs = multierr.Append(errs, mgr.Shutdown(context.Background()))
	return errs
}

func closeServer(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command aperiod runs the video fetch-and-transcode service: an HTTP API
// in front of a persistent job queue, a dispatch scheduler and external
// fetch/encode tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/aperio/internal/api"
	"github.com/ManuGH/aperio/internal/config"
	"github.com/ManuGH/aperio/internal/health"
	xlog "github.com/ManuGH/aperio/internal/log"
	"github.com/ManuGH/aperio/internal/metrics"
	"github.com/ManuGH/aperio/internal/retention"
	"github.com/ManuGH/aperio/internal/scheduler"
	"github.com/ManuGH/aperio/internal/store"
	"github.com/ManuGH/aperio/internal/worker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const (
	shutdownGrace    = 30 * time.Second
	snapshotInterval = time.Minute
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	xlog.Configure(xlog.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "aperio",
	})
	logger := xlog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
}

func run(cfg config.Config) error {
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Storage.StoragePath, cfg.Storage.WorkingDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	st, err := store.OpenSQLite(cfg.DatabasePath(), store.SQLiteConfig{
		MaxOpenConns: cfg.Storage.DBMaxConnections,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	instrumented := store.NewInstrumentedStore(st, "sqlite")

	gate := scheduler.NewGate(
		int64(cfg.Download.MaxConcurrent),
		int64(cfg.Processing.MaxConcurrent),
		int64(cfg.Queue.MaxConcurrentJobs),
	)
	dl := worker.NewDownloader(cfg.Download, cfg.Storage.WorkingDir)
	proc := worker.NewProcessor(cfg.Processing, cfg.Storage.WorkingDir, cfg.Storage.StoragePath)
	sched := scheduler.New(instrumented, gate, dl, proc, cfg.Storage.WorkingDir, cfg.Queue.MaxQueueSize)

	if err := sched.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewDBChecker(st.DB()))
	hm.RegisterChecker(health.NewDirChecker("storage", cfg.Storage.StoragePath))
	hm.RegisterChecker(health.NewDirChecker("working_dir", cfg.Storage.WorkingDir))
	hm.RegisterChecker(health.NewBinaryChecker("download_tool", cfg.Download.Command))
	hm.RegisterChecker(health.NewBinaryChecker("encode_tool", cfg.Processing.Command))
	diskFloor := uint64(cfg.Download.MaxFileSizeMB*1024*1024)*2 + 1<<30
	hm.RegisterChecker(health.NewDiskChecker("disk_space", cfg.Storage.WorkingDir, diskFloor))

	collector := metrics.NewCollector(instrumented, sched.QueueDepth, 60)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           api.New(cfg, instrumented, sched, hm, collector),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ClientTimeout,
		WriteTimeout:      cfg.Server.ClientTimeout,
		IdleTimeout:       cfg.Server.KeepAlive,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		collector.Run(gctx, snapshotInterval)
		return nil
	})
	if cfg.Retention.Enabled {
		sweeper := retention.New(instrumented, cfg.Storage.WorkingDir,
			time.Duration(cfg.Retention.RetentionDays)*24*time.Hour,
			cfg.Retention.CleanupInterval)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info().
			Str(xlog.FieldEvent, "daemon.listening").
			Str("addr", srv.Addr).
			Str("version", version).
			Msg("HTTP server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Str(xlog.FieldEvent, "daemon.stopped").Msg("shutdown complete")
	return err
}

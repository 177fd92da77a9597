// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jamesross/durable-jobqueue/internal/adminapi"
	"github.com/jamesross/durable-jobqueue/internal/batch"
	"github.com/jamesross/durable-jobqueue/internal/config"
	"github.com/jamesross/durable-jobqueue/internal/handlers"
	"github.com/jamesross/durable-jobqueue/internal/obs"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

var version = "dev"

// jobqueue-admin runs the read-only operator surface against the same
// database a jobqueue-worker process writes to, for deployments that
// split the admin endpoint onto its own host.
func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open store", obs.Err(err))
	}
	defer st.Close()

	// The registry only needs to know type names for /api/v1/types; it
	// never dispatches here, so handlers are registered for listing only.
	reg := registry.New()
	reg.Register("content_operations", handlers.NewEmbedding(512), "")
	reg.Register("file_operations", handlers.NewFileSync(), "")

	q := queue.NewService(st, reg, logger)
	batchMgr := batch.NewManager(q)

	srv := adminapi.New(cfg.AdminAPI.ListenAddr, q, batchMgr, reg, logger)
	srv.Start()
	logger.Info("admin api started", obs.String("version", version), obs.String("addr", cfg.AdminAPI.ListenAddr))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, forcing exit", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin api shutdown error", obs.Err(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	u, err := url.Parse(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url: %w", err)
	}
	switch u.Scheme {
	case "sqlite":
		path := strings.TrimPrefix(cfg.Database.URL, "sqlite://")
		return store.OpenSQLite(ctx, path, int(cfg.Database.BusyTimeout.Milliseconds()), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.CompressAbove)
	case "postgres", "postgresql":
		dsn := cfg.Database.URL
		if cfg.Database.AuthToken != "" {
			dsn = dsn + "?password=" + cfg.Database.AuthToken
		}
		return store.OpenPostgres(ctx, dsn, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.CompressAbove)
	default:
		return nil, fmt.Errorf("unsupported database.url scheme %q", u.Scheme)
	}
}

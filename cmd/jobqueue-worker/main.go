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

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/adminapi"
	"github.com/jamesross/durable-jobqueue/internal/archive"
	"github.com/jamesross/durable-jobqueue/internal/batch"
	"github.com/jamesross/durable-jobqueue/internal/bus"
	"github.com/jamesross/durable-jobqueue/internal/config"
	"github.com/jamesross/durable-jobqueue/internal/handlers"
	"github.com/jamesross/durable-jobqueue/internal/obs"
	"github.com/jamesross/durable-jobqueue/internal/progress"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/ratelimit"
	"github.com/jamesross/durable-jobqueue/internal/reaper"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
	"github.com/jamesross/durable-jobqueue/internal/worker"
)

var version = "dev"

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

	reg := registry.New()
	reg.Register("content_operations", handlers.NewEmbedding(512), "")
	reg.Register("file_operations", handlers.NewFileSync(), "")

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	var opts []queue.Option
	if limiter != nil {
		opts = append(opts, queue.WithRateLimiter(limiter))
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3Archiver(cfg.Archive.S3Bucket, cfg.Archive.S3Prefix, cfg.Archive.S3Region)
		if err != nil {
			logger.Fatal("failed to init archiver", obs.Err(err))
		}
		opts = append(opts, queue.WithArchiver(archiver, cfg.Archive.ThresholdBytes))
	}
	q := queue.NewService(st, reg, logger, opts...)

	msgBus, err := openBus(cfg)
	if err != nil {
		logger.Fatal("failed to init message bus", obs.Err(err))
	}

	batchMgr := batch.NewManager(q)
	monitor := progress.NewMonitor(msgBus, q, batchMgr, logger)

	pool := worker.New(
		worker.Config{
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			MaxJobs:      cfg.Worker.MaxJobs,
			AutoStart:    cfg.Worker.AutoStart,
		},
		worker.BreakerConfig{
			Window:           cfg.CircuitBreaker.Window,
			CooldownPeriod:   cfg.CircuitBreaker.CooldownPeriod,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			MinSamples:       cfg.CircuitBreaker.MinSamples,
		},
		q, reg, monitor, logger,
	)
	pool.Start(ctx)
	defer pool.Stop()

	if cfg.Reaper.Enabled {
		rp := reaper.New(st, cfg.Reaper.StalenessWindow, logger)
		if err := rp.Start(ctx, cfg.Reaper.Schedule); err != nil {
			logger.Fatal("failed to start reaper", obs.Err(err))
		}
		defer rp.Stop()
	}

	cleanupCron := cron.New()
	if cfg.Cleanup.Enabled {
		_, err := cleanupCron.AddFunc(cfg.Cleanup.Schedule, func() {
			olderThanMs := cfg.Cleanup.OlderThan.Milliseconds()
			n, err := q.Cleanup(ctx, olderThanMs)
			if err != nil {
				logger.Warn("cleanup sweep failed", obs.Err(err))
				return
			}
			batchMgr.Cleanup(ctx, olderThanMs)
			if n > 0 {
				logger.Info("cleanup removed terminal jobs", obs.Int("count", int(n)))
			}
		})
		if err != nil {
			logger.Fatal("failed to schedule cleanup", obs.Err(err))
		}
		cleanupCron.Start()
		defer cleanupCron.Stop()
	}

	readyCheck := func(c context.Context) error {
		_, err := q.GetStats(c)
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	obs.StartQueueDepthUpdater(ctx, cfg.Observability.QueueSampleInterval, q, logger)

	var adminSrv *adminapi.Server
	if cfg.AdminAPI.Enabled {
		adminSrv = adminapi.New(cfg.AdminAPI.ListenAddr, q, batchMgr, reg, logger)
		adminSrv.Start()
		defer func() { _ = adminSrv.Shutdown(context.Background()) }()
	}

	logger.Info("durable job queue worker started", obs.String("version", version))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	<-ctx.Done()
	pool.Stop()
	logger.Info("shutdown complete")
}

// openStore dispatches on the database.url scheme: "sqlite://" or
// "postgres(ql)?://".
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

func openBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Kind {
	case "nats":
		return bus.NewNATS(cfg.Bus.NATSURL)
	case "redis":
		return bus.NewRedis(cfg.Bus.RedisAddr), nil
	default:
		return bus.NewInProcess(), nil
	}
}

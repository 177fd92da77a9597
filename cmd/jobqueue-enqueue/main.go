// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jamesross/durable-jobqueue/internal/config"
	"github.com/jamesross/durable-jobqueue/internal/handlers"
	"github.com/jamesross/durable-jobqueue/internal/jobcontext"
	"github.com/jamesross/durable-jobqueue/internal/obs"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

// jobqueue-enqueue is a one-shot producer CLI for manual and scripted
// submission against a running queue's database, outside of any running
// worker process.
func main() {
	var configPath, jobType, data, dataFile, source, operationType, dedup, dedupKey string
	var priority, maxRetries int
	var delayMs int64

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&jobType, "type", "", "Job type, must match a registered handler")
	fs.StringVar(&data, "data", "", "Job payload as a JSON literal")
	fs.StringVar(&dataFile, "data-file", "", "Path to a file containing the JSON payload (overrides -data)")
	fs.StringVar(&source, "source", "cli", "Job source identifier")
	fs.StringVar(&operationType, "operation-type", string(jobcontext.OperationData), "One of file_operations|content_operations|data_processing|batch_processing")
	fs.StringVar(&dedup, "dedup", "", "Deduplication mode: none|skip|replace|coalesce")
	fs.StringVar(&dedupKey, "dedup-key", "", "Deduplication key, scoped by (type, key)")
	fs.IntVar(&priority, "priority", 0, "Job priority, higher dispatches first")
	fs.IntVar(&maxRetries, "max-retries", 0, "Max retry attempts, 0 uses the service default")
	fs.Int64Var(&delayMs, "delay-ms", 0, "Delay before the job becomes eligible, in milliseconds")
	_ = fs.Parse(os.Args[1:])

	if jobType == "" {
		fmt.Fprintln(os.Stderr, "-type is required")
		os.Exit(2)
	}

	payload := []byte(data)
	if dataFile != "" {
		b, err := os.ReadFile(dataFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read -data-file: %v\n", err)
			os.Exit(1)
		}
		payload = b
	}
	if len(payload) == 0 {
		fmt.Fprintln(os.Stderr, "-data or -data-file is required")
		os.Exit(2)
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

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	reg := registry.New()
	reg.Register("content_operations", handlers.NewEmbedding(512), "")
	reg.Register("file_operations", handlers.NewFileSync(), "")

	q := queue.NewService(st, reg, logger)

	id, err := q.Enqueue(ctx, jobType, payload, queue.EnqueueOptions{
		Source:   source,
		Priority: priority,
		Metadata: jobcontext.Context{
			OperationType: jobcontext.OperationType(operationType),
		},
		MaxRetries:       maxRetries,
		DelayMs:          delayMs,
		Dedup:            store.Dedup(dedup),
		DeduplicationKey: dedupKey,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(id)
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

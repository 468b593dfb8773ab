// Package main wires together the pagewatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/talemon/pagewatch/internal/api"
	"github.com/talemon/pagewatch/internal/browser"
	"github.com/talemon/pagewatch/internal/capture"
	"github.com/talemon/pagewatch/internal/clock/system"
	"github.com/talemon/pagewatch/internal/config"
	"github.com/talemon/pagewatch/internal/hash/sha1"
	"github.com/talemon/pagewatch/internal/logging"
	"github.com/talemon/pagewatch/internal/metrics"
	"github.com/talemon/pagewatch/internal/normalize"
	"github.com/talemon/pagewatch/internal/policy/domainlimit"
	memorypublisher "github.com/talemon/pagewatch/internal/publisher/memory"
	pubsubpublisher "github.com/talemon/pagewatch/internal/publisher/pubsub"
	"github.com/talemon/pagewatch/internal/scheduler"
	gcsstorage "github.com/talemon/pagewatch/internal/storage/gcs"
	localstorage "github.com/talemon/pagewatch/internal/storage/local"
	memorystorage "github.com/talemon/pagewatch/internal/storage/memory"
	"github.com/talemon/pagewatch/internal/storage/postgres"
	"github.com/talemon/pagewatch/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pages, err := postgres.New(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("page store init failed", zap.Error(err))
	}
	defer pages.Close()

	blobs, err := newBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, cleanup, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer cleanup()

	engine, err := browser.NewEngine(cfg.Browser)
	if err != nil {
		logger.Fatal("browser engine init failed", zap.Error(err))
	}
	defer engine.Close()

	captureSvc := capture.New(
		engine,
		blobs,
		normalize.New(normalize.DefaultConfig()),
		sha1.New(),
		system.New(),
		capture.Config{
			NavigationTimeout: cfg.Scheduler.NavigationTimeout,
			PathLayout:        cfg.Storage.PathLayout,
		},
		logger.Named("capture"),
	)

	sched := scheduler.New(
		pages,
		captureSvc,
		domainlimit.New(cfg.Domain),
		publisher,
		scheduler.Config{
			PollInterval:      cfg.Scheduler.PollInterval,
			ClaimBatchSize:    cfg.Scheduler.ClaimBatchSize,
			Concurrency:       cfg.Scheduler.Concurrency,
			HeartbeatInterval: cfg.Scheduler.HeartbeatInterval,
			ZombieTimeout:     cfg.Scheduler.ZombieTimeout,
			SweepInterval:     cfg.Scheduler.SweepInterval,
		},
		logger.Named("scheduler"),
	)

	apiServer := api.NewServer(pages, pages, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started",
			zap.Duration("poll_interval", cfg.Scheduler.PollInterval),
			zap.Int("concurrency", cfg.Scheduler.Concurrency))
		sched.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (watch.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	case "local":
		store, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("memory blob store configured, artifacts are not durable")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (watch.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicID == "" {
		logger.Warn("pubsub not configured, change events stay in process")
		return memorypublisher.New(), func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	cleanup := func() {
		if err := pub.Close(); err != nil {
			logger.Error("pubsub close failed", zap.Error(err))
		}
	}
	return pub, cleanup, nil
}

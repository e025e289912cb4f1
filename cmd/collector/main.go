package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/V4T54L/logrelay/internal/adapter/api"
	"github.com/V4T54L/logrelay/internal/adapter/api/handler"
	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/adapter/pii"
	"github.com/V4T54L/logrelay/internal/adapter/queue"
	"github.com/V4T54L/logrelay/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/logrelay/internal/adapter/repository/redis"
	"github.com/V4T54L/logrelay/internal/adapter/repository/wal"
	"github.com/V4T54L/logrelay/internal/adapter/syslog"
	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/config"
	"github.com/V4T54L/logrelay/internal/pkg/logger"
	"github.com/V4T54L/logrelay/internal/usecase"
)

const (
	drainTimeout        = 30 * time.Second
	tailHealthInterval  = 5 * time.Second
	adminShutdownWindow = 5 * time.Second
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file to load before reading the environment")
	migrate := pflag.Bool("migrate", false, "apply the bundled database schema on connect")
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateCollector(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, *migrate, logger); err != nil {
		logger.Error("collector failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate bool, logger *slog.Logger) error {
	cc := cfg.Collector

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollectorMetrics(reg)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Queue and Disk Spill ---
	var spill domain.SpillRepository
	if cc.SpillDir != "" {
		spillRepo, err := wal.NewSpillRepository(cc.SpillDir, cc.SpillSegmentSize, cc.SpillMaxDiskSize, logger)
		if err != nil {
			return err
		}
		defer spillRepo.Close()
		spill = spillRepo
	}
	q := queue.New(cc.QueueMemoryLimit, spill, m, logger)

	// --- Optional Live-Tail Stream ---
	var publisher domain.EntryPublisher
	var tailReader handler.TailReader
	if cc.RedisAddr != "" {
		redisOpts, err := redis.ParseURL(cc.RedisAddr)
		if err != nil {
			return err
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, tail stream starts disabled", "error", err)
		}

		tail := redisrepo.NewTailPublisher(redisClient, cc.TailStream, cc.TailStreamMaxLen, logger)
		go tail.StartHealthCheck(ctx, tailHealthInterval)
		publisher = tail
		tailReader = tail
	}

	// --- Writer ---
	policy := postgres.RetryPolicy{Attempts: cc.RetryAttempts, Interval: cc.RetryInterval}
	connect := func(ctx context.Context) (domain.Store, error) {
		store, err := postgres.Open(ctx, cc.PostgresURL, migrate, logger)
		if err != nil {
			return nil, err
		}
		return postgres.NewRetryingStore(store, policy, m.StoreRetries, logger), nil
	}
	redactor := pii.NewRedactor(strings.Split(cc.RedactParams, ","), logger)
	writer := usecase.NewWriter(q, connect, usecase.WriterConfig{
		CacheSize:         cc.CacheSize,
		HostTouchInterval: cc.HostTouchInterval,
	}, redactor, publisher, m, logger)

	// The writer outlives the signal context so it can drain.
	writerCtx, cancelWriter := context.WithCancel(context.Background())
	defer cancelWriter()
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(writerCtx) }()

	// --- Listener ---
	listener, err := syslog.Listen(cc.BindAddr, cc.ReadMax, syslog.NewClassifier(syslog.DefaultRules), q, m, logger)
	if err != nil {
		writer.Stop()
		<-writerDone
		return err
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("listener failed", "error", err)
			stop()
		}
	}()

	// --- Start Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: api.NewAdminRouter(reg, writer, tailReader, logger),
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	logger.Info("collector started", "bind_addr", listener.Addr().String())

	// --- Wait for shutdown signal or writer failure ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining writer...")
		listener.Close()
		writer.Stop()
		select {
		case runErr = <-writerDone:
		case <-time.After(drainTimeout):
			if n, err := q.SpillPending(context.Background()); err != nil {
				logger.Error("failed to spill pending events", "error", err, "pending", q.Len())
			} else if n > 0 {
				logger.Warn("writer did not drain in time, pending events spilled for next start", "count", n)
			}
			logger.Warn("aborting writer", "pending", q.Len())
			cancelWriter()
			runErr = <-writerDone
		}
	case runErr = <-writerDone:
		listener.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownWindow)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	if runErr == nil {
		logger.Info("collector shut down gracefully")
	}
	return runErr
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/V4T54L/logrelay/internal/adapter/api"
	"github.com/V4T54L/logrelay/internal/adapter/formatter"
	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/adapter/parser"
	"github.com/V4T54L/logrelay/internal/adapter/syslog"
	"github.com/V4T54L/logrelay/internal/adapter/tracker"
	"github.com/V4T54L/logrelay/internal/pkg/config"
	"github.com/V4T54L/logrelay/internal/pkg/logger"
	"github.com/V4T54L/logrelay/internal/usecase"
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file to load before reading the environment")
	sourcesFile := pflag.String("sources", "", "path to the sources YAML file (overrides TAILER_SOURCES_FILE)")
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
	if *sourcesFile != "" {
		cfg.Tailer.SourcesFile = *sourcesFile
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("tailer failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewTailerMetrics(reg)

	sources, err := buildSources(cfg.Tailer.SourcesFile, logger)
	if err != nil {
		return err
	}

	transport, err := syslog.DialUDP(cfg.Tailer.SyslogAddr, cfg.Tailer.MaxMessageSize)
	if err != nil {
		return err
	}
	defer transport.Close()

	var limiter *rate.Limiter
	if cfg.Tailer.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Tailer.SendRate), cfg.Tailer.SendBurst)
	}
	sender := syslog.NewSender(transport, limiter, m, logger)

	tailer := usecase.NewTailer(tracker.New(logger), sources, sender, usecase.TailerConfig{
		ReadMax:      cfg.Tailer.ReadMax,
		ReadInterval: cfg.Tailer.ReadInterval,
	}, m, logger)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tailer.Watch {
		notifier, err := tracker.NewNotifier(sources, logger)
		if err != nil {
			logger.Warn("file notifications unavailable, polling only", "error", err)
		} else {
			go notifier.Run(ctx)
			tailer.WakeOn(notifier.C())
		}
	}

	// --- Start Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: api.NewAdminRouter(reg, nil, nil, logger),
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	logger.Info("starting tailer", "destination", cfg.Tailer.SyslogAddr, "sources", len(sources))
	runErr := tailer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("tailer shut down gracefully")
	return runErr
}

func buildSources(path string, logger *slog.Logger) ([]*tracker.FileSource, error) {
	configs, err := config.LoadSources(path)
	if err != nil {
		return nil, err
	}

	parsers := parser.NewRegistry()
	formatters := formatter.NewRegistry()

	sources := make([]*tracker.FileSource, 0, len(configs))
	for _, sc := range configs {
		p, err := parsers.New(sc.Parser, sc.ParserOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}

		fopts := sc.FormatterOptions()
		if sc.Facility != nil {
			fopts["facility"] = strconv.Itoa(*sc.Facility)
		}
		f, err := formatters.New(sc.Formatter, fopts)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}

		sources = append(sources, tracker.NewFileSource(sc.Name, sc.Path, p, f))
		logger.Info("configured source", "name", sc.Name, "path", sc.Path, "parser", sc.Parser, "formatter", sc.Formatter)
	}
	return sources, nil
}

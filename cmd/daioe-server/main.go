package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/daioe-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/daioe-etl/internal/adapter/kafka"
	"github.com/couchcryptid/daioe-etl/internal/adapter/workbook"
	"github.com/couchcryptid/daioe-etl/internal/app"
	"github.com/couchcryptid/daioe-etl/internal/config"
	"github.com/couchcryptid/daioe-etl/internal/observability"
	"github.com/couchcryptid/daioe-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "daioe-etl")
	metrics := observability.NewMetrics()

	// Kafka sink is feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var opts []pipeline.Option
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		opts = append(opts, pipeline.WithPublisher(writer))
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka sink disabled")
	}

	a, err := app.New(cfg, logger, metrics, opts...)
	if err != nil {
		logger.Error("failed to set up pipeline", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wb := workbook.NewLoader(cfg.HTTPTimeout, logger, metrics)
	translators, err := app.LoadTranslators(ctx, wb, cfg.TranslationSources, cfg.Taxonomies)
	if err != nil {
		logger.Error("failed to load translations", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, a, a.Pipeline, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start refresh loop.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Pipeline.Serve(ctx, cfg.Taxonomies, pipeline.RunOptions{Translators: translators}, cfg.RefreshInterval)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.Close(); err != nil {
		logger.Error("cache close error", "error", err)
	}

	logger.Info("shutdown complete")
}

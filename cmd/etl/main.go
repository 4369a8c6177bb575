package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/couchcryptid/accident-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/accident-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/accident-data-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/accident-data-etl/internal/cluster"
	"github.com/couchcryptid/accident-data-etl/internal/config"
	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/ingest"
	"github.com/couchcryptid/accident-data-etl/internal/normalize"
	"github.com/couchcryptid/accident-data-etl/internal/observability"
	"github.com/couchcryptid/accident-data-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	var loaders []pipeline.ResultLoader
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer closeLogged(logger, "kafka writer", writer.Close)
		loaders = append(loaders, writer)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.ResultsDB != "" {
		store, err := sqlite.Open(cfg.ResultsDB, logger)
		if err != nil {
			logger.Error("failed to open results db", "path", cfg.ResultsDB, "error", err)
			return 1
		}
		defer closeLogged(logger, "results db", store.Close)
		loaders = append(loaders, store)
	}

	p := pipeline.New(
		ingest.New(cfg.ExtractDir, logger, metrics),
		normalize.New(domain.DefaultVocabularies(), cfg.MemoryReport, logger, metrics),
		cluster.New(cfg.ClusterLinkage, logger),
		loaders,
		pipeline.Options{
			SnapshotPath:   cfg.SnapshotPath,
			SnapshotReuse:  cfg.SnapshotReuse,
			CRS:            cfg.CRS,
			SummaryRegions: cfg.SummaryRegions,
			ClusterRegion:  cfg.ClusterRegion,
			ClusterCount:   cfg.ClusterCount,
			RoadClasses:    cfg.RoadClasses,
			InfluenceYears: cfg.InfluenceYears,
			FatalCauseMin:  cfg.FatalCauseMin,
		},
		logger, metrics,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.Serve() {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
				stop()
			}
		}()
	}

	code := 0
	if _, err := p.Run(ctx, cfg.ArchivePath); err != nil {
		logger.Error("pipeline error", "error", err)
		// Sink failures leave a published analysis behind and are not fatal.
		if p.Latest() == nil {
			code = 1
		}
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, prometheus.DefaultGatherer); err != nil {
			logger.Error("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	if srv == nil {
		return code
	}

	// Keep serving the published analysis until asked to stop.
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return code
}

func closeLogged(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(what+" close error", "error", err)
	}
}

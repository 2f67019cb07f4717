// Command poplake ingests yearly population-registry extracts into an
// embedded DuckDB staging store and rewrites the accumulated data as
// year-partitioned, gzip compressed parquet files.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/thaistat/poplake/config"
	"github.com/thaistat/poplake/pipeline"
	"github.com/thaistat/poplake/source"
	"github.com/thaistat/poplake/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", getEnv("POPLAKE_CONFIG", ""), "path to yaml configuration")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", zap.Error(err))
		return 1
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration error", zap.Error(err))
		return 1
	}

	st, err := store.Open(store.Options{
		Path:       cfg.Store.Path,
		OnConflict: store.ConflictPolicy(cfg.Store.OnConflict),
		Reset:      store.ResetMode(cfg.Store.Reset),
	}, logger)
	if err != nil {
		logger.Error("failed to open staging store", zap.Error(err))
		return 1
	}
	defer st.Close()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	client := source.NewClient(
		time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
		cfg.Fetch.URLTemplate,
		logger,
	)

	orch := pipeline.New(pipeline.Options{
		Mode:         pipeline.Mode(cfg.Mode),
		StartYear:    cfg.Years.Start,
		EndYear:      cfg.Years.End,
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueSize,
		QueueTimeout: time.Duration(cfg.Pipeline.QueueTimeoutSeconds) * time.Second,
		ExportDir:    cfg.Export.Dir,
	}, client, st, logger)

	// A full-process timeout is the only cancellation mechanism; nothing
	// mid-pipeline is cancellable on its own.
	ctx := context.Background()
	if cfg.Pipeline.RunTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Pipeline.RunTimeoutSeconds)*time.Second)
		defer cancel()
	}

	report, err := orch.Run(ctx)
	if err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		return 1
	}

	logYearBreakdown(logger, report)
	return 0
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}

func logYearBreakdown(logger *zap.Logger, report *pipeline.RunReport) {
	for _, yr := range report.Years() {
		if !yr.Fetched {
			continue
		}
		logger.Info("year summary",
			zap.Int("year", yr.Year),
			zap.Int("lines_parsed", yr.LinesParsed),
			zap.Int("parse_failures", yr.ParseFailures),
			zap.Int("records_loaded", yr.RecordsLoaded),
			zap.Int("load_failures", yr.LoadFailures))
	}
}

// applyEnvOverrides lets deployment environments override file settings
// without editing the config.
func applyEnvOverrides(cfg *config.Config) {
	if v := getEnv("POPLAKE_MODE", ""); v != "" {
		cfg.Mode = v
	}
	if v := getEnv("POPLAKE_START_YEAR", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Years.Start = n
		}
	}
	if v := getEnv("POPLAKE_END_YEAR", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Years.End = n
		}
	}
	if v := getEnv("POPLAKE_DB_PATH", ""); v != "" {
		cfg.Store.Path = v
	}
	if v := getEnv("POPLAKE_EXPORT_DIR", ""); v != "" {
		cfg.Export.Dir = v
	}
	if v := getEnv("POPLAKE_METRICS_LISTEN", ""); v != "" {
		cfg.Metrics.Listen = v
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Trim(value, "\"'")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/envinsight/internal/config"
	"github.com/afroash/envinsight/internal/insights"
	"github.com/afroash/envinsight/internal/llm"
	"github.com/afroash/envinsight/internal/server"
	"github.com/afroash/envinsight/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting environmental insight server")
	logger.Debug().Msg(cfg.String())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := server.NewMemoryStore(cfg.Storage.BufferSize)

	var (
		sqliteStore      *storage.SQLiteStore
		dbWriter         *storage.DBWriter
		retentionCleaner *storage.RetentionCleaner
		repo             insights.ReadingRepository = store
	)

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create SQLite store")
		}
		repo = sqliteStore

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, storage.NewWriterMetrics(reg), logger)

		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Database.RetentionDays,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)
	}

	// Insight engine
	gateway, err := llm.FromConfig(cfg.LLM, llm.NewMetrics(reg), logger)
	switch {
	case errors.Is(err, llm.ErrNoProviders):
		logger.Warn().Msg("No usable LLM provider configured, insights will use the rule-based fallback")
		gateway = nil
	case err != nil:
		logger.Fatal().Err(err).Msg("Failed to configure LLM providers")
	}

	engineCfg := insights.EngineConfig{
		CacheTTL:         cfg.Insights.CacheTTL,
		FallbackCacheTTL: cfg.Insights.FallbackCacheTTL,
		PatternWindow:    cfg.Insights.PatternWindow,
		PromptExcerpt:    cfg.Insights.PromptExcerpt,
		ReadingLimit:     cfg.Insights.ReadingLimit,
		RequestTimeout:   cfg.Insights.RequestTimeout,
		DedupeInflight:   cfg.Insights.DedupeInflight == nil || *cfg.Insights.DedupeInflight,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.SamplingTemperature(),
	}
	cache := insights.NewCache(cfg.Insights.CacheMaxEntries)
	engine := insights.NewEngine(repo, gateway, cache, engineCfg, insights.NewMetrics(reg), logger)

	warmer := insights.NewWarmer(engine, cfg.Insights.WarmLocations, cfg.Insights.WarmPeriod, cfg.Insights.WarmInterval, logger)
	if err := warmer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start insight cache warmer")
	}

	// HTTP
	var apiHandler *server.APIHandler
	if sqliteStore != nil {
		apiHandler = server.NewAPIHandlerWithHistory(store, sqliteStore, logger)
	} else {
		apiHandler = server.NewAPIHandler(store, logger)
	}
	apiHandler.SetInsights(engine)

	ingest := server.NewHandler(cfg.Server.AuthToken, store, logger, cfg.Server.AllowedOrigins...)
	if dbWriter != nil {
		ingest.SetDBWriter(dbWriter)
	}

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)
	mux.Handle("GET /health", &server.HealthHandler{
		Version:      version,
		Store:        store,
		Ingest:       ingest,
		Database:     sqliteStore != nil,
		FallbackOnly: engine.FallbackOnly(),
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/sensor-stream", ingest)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Middleware(mux, server.NewHTTPMetrics(reg), logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	warmer.Stop()
	if dbWriter != nil {
		dbWriter.Stop()
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close SQLite store")
		}
	}

	logger.Info().Msg("Server stopped")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aligncensus/aligncensus/internal/api"
	"github.com/aligncensus/aligncensus/internal/auth"
	"github.com/aligncensus/aligncensus/internal/census"
	"github.com/aligncensus/aligncensus/internal/config"
	"github.com/aligncensus/aligncensus/internal/export"
	"github.com/aligncensus/aligncensus/internal/observability"
	runspostgres "github.com/aligncensus/aligncensus/internal/runs/postgres"
	s3store "github.com/aligncensus/aligncensus/internal/storage/s3"
	"github.com/aligncensus/aligncensus/internal/table"
	"github.com/aligncensus/aligncensus/internal/table/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("aligncensus-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	client := census.NewClient(census.ClientConfig{Timeout: cfg.Census.Timeout, Logger: logger})

	var aligner table.Aligner = table.NewLeftJoin()
	if cfg.Align.Engine == config.AlignEngineDuckDB {
		aligner = duckdb.NewAligner()
	}

	readiness := []api.ReadinessCheck{api.CheckCensusKey(cfg)}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: time.Second,
		Census:            client,
		Metadata:          census.NewCachingFetcher(client),
		Aligner:           aligner,
	}

	if cfg.Catalog.DSN != "" {
		db, err := runspostgres.Open(context.Background(), runspostgres.DBConfig{
			DSN:             cfg.Catalog.DSN,
			MaxOpenConns:    cfg.Catalog.MaxOpenConns,
			MaxIdleConns:    cfg.Catalog.MaxIdleConns,
			ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open run history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		repo := runspostgres.NewRepository(db)
		deps.Runs = repo
		readiness = append(readiness, repo.HealthCheck)
	} else {
		logger.Warn("ALIGNCENSUS_CATALOG_DSN not set; run history disabled")
	}

	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Publisher = export.NewPublisher(store, logger)
		readiness = append(readiness, store.CheckReady)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("align_engine", string(cfg.Align.Engine)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

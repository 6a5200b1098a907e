package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/retirement/internal/api"
	"example.com/retirement/internal/auth"
	"example.com/retirement/internal/config"
	"example.com/retirement/internal/domain"
	"example.com/retirement/internal/logging"
	"example.com/retirement/internal/observability"
	"example.com/retirement/internal/outbox"
	"example.com/retirement/internal/persistence/memory"
	"example.com/retirement/internal/persistence/postgres"
	httptransport "example.com/retirement/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("configure logging")
	}
	logging.Install(logger)

	timelineCfg, err := config.LoadTimeline(cfg.TimelineConfigPath)
	if err != nil {
		logger.WithError(err).Fatal("load timeline config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo    domain.TimelineRepository
		workers sync.WaitGroup
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.WithError(err).Fatal("connect to postgres")
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		if cfg.OutboxEnabled {
			producer := outbox.NewKafkaProducer(outbox.ProducerConfig{Brokers: cfg.KafkaBrokers})
			defer producer.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger))
			replayer := outbox.NewReplayer(pool, outbox.ReplayConfig{
				MaxRetries: cfg.DLQMaxRetries,
				BaseDelay:  cfg.DLQBaseDelay,
				BatchSize:  cfg.DLQBatchSize,
				Interval:   cfg.DLQPollInterval,
			}, outbox.WithLogger(logger))

			workers.Add(2)
			go func() {
				defer workers.Done()
				dispatcher.Start(ctx)
			}()
			go func() {
				defer workers.Done()
				replayer.Start(ctx)
			}()
		}
	default:
		logger.Warn("using in-memory storage; timelines are lost on restart")
		repo = memory.NewRepository()
	}

	service := domain.NewService(repo, timelineCfg.Settings,
		domain.WithLogger(logger),
		domain.WithRecorder(observability.TimelineRecorder{}),
		domain.WithLabelStep(timelineCfg.Layout.LabelStep),
	)

	workers.Add(1)
	go func() {
		defer workers.Done()
		service.RunEviction(ctx, cfg.SessionSweepInterval, cfg.SessionIdleTimeout)
	}()

	mux := http.NewServeMux()
	api.NewHandler(service, timelineCfg.Layout, api.WithLogger(logger)).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		auth.PublicPaths("/healthz", "/metrics"),
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.Recover(logger),
		httptransport.RequestLogger(logger),
		httptransport.CORS(cfg.CORSOrigin),
		authMiddleware.Wrap,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithFields(log.Fields{"address": cfg.HTTPAddress, "storage": cfg.Storage}).Info("retirement api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}

	workers.Wait()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/config"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/consumer"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/geo"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/logger"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/queue/sqs"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository/clickhouse"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/valkey"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting click consumer",
		zap.String("environment", cfg.Service.Environment))

	ctx := context.Background()

	// Initialize ClickHouse client
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	repo := clickhouse.NewRepository(chClient, log)

	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Valkey backs both the idempotency keys and the geo cache
	valkeyClient, err := valkey.NewClient(ctx, cfg.Valkey, log)
	if err != nil {
		log.Fatal("Failed to create Valkey client", zap.Error(err))
	}
	defer func() {
		if err := valkeyClient.Close(); err != nil {
			log.Error("Failed to close Valkey client", zap.Error(err))
		}
	}()

	var dedup consumer.Deduplicator
	if cfg.Valkey.IdempotencyEnabled {
		dedup = valkey.NewDeduplicator(valkeyClient.Redis(), valkey.DeduplicatorConfig{
			TTL:      time.Duration(cfg.Valkey.IdempotencyTTLHours) * time.Hour,
			FailOpen: cfg.Valkey.IdempotencyFailOpen,
		}, log.Named("idempotency"))
	}

	var resolver consumer.GeoResolver
	if cfg.Geo.ProviderURL != "" {
		provider := geo.NewHTTPProvider(cfg.Geo.ProviderURL,
			time.Duration(cfg.Geo.LookupTimeoutMS)*time.Millisecond, log)
		resolver = geo.NewResolver(provider, valkeyClient.Redis(),
			time.Duration(cfg.Geo.CacheTTLHours)*time.Hour, log.Named("geo"))
	}

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	c := consumer.NewConsumer(cfg, sqsClient, repo, dedup, resolver, log)

	// Start health check endpoint
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := repo.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			if err := valkeyClient.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.String("dependency", "valkey"), zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		addr := ":" + cfg.Consumer.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Start(consumerCtx); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutting down consumer gracefully")
		cancel()
		<-done
	case <-done:
		log.Warn("Consumer stopped unexpectedly")
	}
}

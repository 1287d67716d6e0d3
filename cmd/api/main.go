package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tysondigitalblitz/digital-blitz-zeus/docs"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/config"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/domain"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/handler"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/leadform"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/logger"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/matching"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/queue/sqs"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository/clickhouse"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository/mysql"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/service"
)

// @title Offline Conversion Attribution API
// @version 1.0
// @description API for capturing ad clicks and attributing offline purchases to them
// @host localhost:8080
// @BasePath /
// @schemes http https
func main() {
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

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	// Configure Swagger host dynamically
	docs.SwaggerInfo.Host = cfg.Service.Host

	ctx := context.Background()

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Initialize ClickHouse client
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func(clickhouseClient *clickhouse.Client) {
		if err := clickhouseClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}(clickhouseClient)

	repo := clickhouse.NewRepository(clickhouseClient, log)

	// The conversions aggregate lives in the business database when one is configured
	var conversions repository.ConversionStatsStore = repo
	if cfg.MySQL.DSN != "" {
		stats, err := mysql.Open(ctx, cfg.MySQL, log)
		if err != nil {
			log.Fatal("Failed to connect to business database", zap.Error(err))
		}
		defer func() {
			if err := stats.Close(); err != nil {
				log.Error("Failed to close business database", zap.Error(err))
			}
		}()
		conversions = stats
	}

	var leadForms matching.LeadFormLookup
	if cfg.LeadForm.BaseURL != "" {
		leadForms = leadform.NewClient(cfg.LeadForm.BaseURL, cfg.LeadForm.Token,
			time.Duration(cfg.LeadForm.TimeoutSec)*time.Second, log)
		log.Info("Lead form tier enabled", zap.String("base_url", cfg.LeadForm.BaseURL))
	}

	engineConfig := matching.EngineConfig{
		QueryTimeout:    cfg.Matcher.QueryTimeout(),
		BulkConcurrency: cfg.Matcher.BulkConcurrency,
	}
	if cfg.Matcher.RandomSeed != 0 {
		engineConfig.Random = matching.NewSeededRandom(uint64(cfg.Matcher.RandomSeed))
	}
	engine := matching.NewEngine(repo, conversions, leadForms, engineConfig, log)

	clickService := service.NewClickService(sqsClient, log)
	attributionService := service.NewAttributionService(func(scope domain.BusinessScope) service.Matcher {
		if scope == (domain.BusinessScope{}) {
			return engine
		}
		return engine.ForBusiness(scope)
	}, log)

	h := handler.NewHandler(clickService, attributionService, repo, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	log.Info("API server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("Failed to start API server", zap.Error(err))
	}
}

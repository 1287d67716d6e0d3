package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/config"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/domain"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/leadform"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/logger"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/matching"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/purchasecsv"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository/clickhouse"
	"github.com/tysondigitalblitz/digital-blitz-zeus/internal/repository/mysql"
)

func main() {
	file := flag.String("file", "", "CSV file of offline purchases")
	pixelID := flag.String("pixel-id", "", "Restrict matching to clicks from this tracking pixel")
	customerID := flag.String("customer-id", "", "Ads customer id; enables the lead form tier when configured")
	chunkSize := flag.Int("chunk", 100, "Purchases matched per progress step")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: matchctl -file purchases.csv [-pixel-id ID] [-customer-id ID]")
		os.Exit(2)
	}
	if *chunkSize <= 0 {
		*chunkSize = 100
	}

	cfg, err := config.LoadMatching()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() {
		_ = log.Sync()
	}()

	loaded, err := purchasecsv.LoadFile(*file)
	if err != nil {
		log.Fatal("Failed to load purchases", zap.String("file", *file), zap.Error(err))
	}
	for _, rowErr := range loaded.Rejected {
		log.Warn("Skipping purchase row", zap.Int("row", rowErr.Row), zap.Error(rowErr.Err))
	}
	log.Info("Purchases loaded",
		zap.Int("accepted", len(loaded.Purchases)),
		zap.Int("rejected", len(loaded.Rejected)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	var conversions repository.ConversionStatsStore = repo
	if cfg.MySQL.DSN != "" {
		stats, err := mysql.Open(ctx, cfg.MySQL, log)
		if err != nil {
			log.Fatal("Failed to connect to business database", zap.Error(err))
		}
		defer stats.Close()
		conversions = stats
	}

	var leadForms matching.LeadFormLookup
	if cfg.LeadForm.BaseURL != "" {
		leadForms = leadform.NewClient(cfg.LeadForm.BaseURL, cfg.LeadForm.Token,
			time.Duration(cfg.LeadForm.TimeoutSec)*time.Second, log)
	}

	engineConfig := matching.EngineConfig{
		QueryTimeout:    cfg.Matcher.QueryTimeout(),
		BulkConcurrency: cfg.Matcher.BulkConcurrency,
	}
	if cfg.Matcher.RandomSeed != 0 {
		engineConfig.Random = matching.NewSeededRandom(uint64(cfg.Matcher.RandomSeed))
	}

	engine := matching.NewEngine(repo, conversions, leadForms, engineConfig, log).
		ForBusiness(domain.BusinessScope{PixelID: *pixelID, CustomerID: *customerID})

	purchases := loaded.Purchases
	results := make([]*domain.MatchResult, 0, len(purchases))
	bar := progressbar.Default(int64(len(purchases)), "matching")

	for start := 0; start < len(purchases); start += *chunkSize {
		end := min(start+*chunkSize, len(purchases))

		out, err := engine.BulkMatch(ctx, purchases[start:end])
		results = append(results, out.Results...)
		_ = bar.Add(len(out.Results))
		if err != nil {
			log.Warn("Matching interrupted", zap.Int("completed", len(results)), zap.Error(err))
			break
		}
	}
	_ = bar.Finish()

	for _, r := range results {
		gclid := r.GCLID
		if gclid == "" {
			gclid = "-"
		}
		fmt.Printf("%s ; %s ; confidence=%d ; gclid=%s ; %s\n",
			r.OrderID, r.MatchType, r.Confidence, gclid, r.AttributionMethod)
	}

	summary := matching.Summarize(purchases[:len(results)], results)
	fmt.Printf("\ntotal=%d exact=%d lead_form=%d probable=%d statistical=%d no_attribution=%d value=%.2f avg_confidence=%.2f\n",
		summary.TotalPurchases,
		summary.ExactMatches,
		summary.LeadFormMatches,
		summary.ProbableMatches,
		summary.StatisticalMatches,
		summary.NoAttribution,
		summary.TotalValue,
		summary.AverageConfidence)
}

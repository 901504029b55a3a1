package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JCapurro/PropScraper/internal/catalog"
	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/connector"
	"github.com/JCapurro/PropScraper/internal/ingestion"
	"github.com/JCapurro/PropScraper/internal/models"
	"github.com/JCapurro/PropScraper/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		zonesFlag      = flag.String("zones", "", "comma-separated zone keys to scrape (default: all)")
		operationsFlag = flag.String("operations", "", "comma-separated operation types to scrape (default: all)")
		platformsFlag  = flag.String("platforms", "zonaprop", "comma-separated platforms to scrape (zonaprop, mercadolibre)")
		maxPages       = flag.Int("max-pages", 0, "maximum pages per zone/operation combination (0 = unlimited)")
		testRun        = flag.Bool("test", false, "quick test run: capital_federal only, sale+rent, 5 pages")
		noDB           = flag.Bool("no-db", false, "don't save to database (dry run)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		return 1
	}

	setupLogging(cfg.Logging)
	logger := slog.Default()

	cat := catalog.Default()
	if cfg.Scraper.CatalogOverlay != "" {
		if err := cat.LoadOverlay(cfg.Scraper.CatalogOverlay); err != nil {
			logger.Error("failed to load catalog overlay", "error", err)
			return 1
		}
	}

	connectors, err := buildConnectors(*platformsFlag, cat, cfg.Scraper)
	if err != nil {
		logger.Error("failed to build connectors", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Storage
	if !*noDB {
		store, err = storage.NewStorage(ctx, cfg.Storage)
		if err != nil {
			logger.Error("failed to initialize storage", "type", cfg.Storage.Type, "error", err)
			return 1
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warn("failed to close storage", "error", err)
			}
		}()
	}

	opts := ingestion.Options{
		MaxPages: *maxPages,
		Persist:  !*noDB,
	}
	if *zonesFlag != "" {
		opts.Zones = splitList(*zonesFlag)
	}
	if *operationsFlag != "" {
		opts.Operations = splitList(*operationsFlag)
	}
	if *testRun {
		opts.Zones = []string{"capital_federal"}
		opts.Operations = []string{"sale", "rent"}
		if opts.MaxPages == 0 {
			opts.MaxPages = 5
		}
	}

	// SIGINT/SIGTERM stop the run gracefully; already fetched data is kept.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received, finishing current page", "signal", sig.String())
		cancel()
	}()

	orch := ingestion.NewOrchestrator(connectors, cat, store, cfg.Scraper.CombinationDelay)
	stats, runErr := orch.Run(ctx, opts)

	printSummary(stats, runErr)

	if errors.Is(runErr, context.Canceled) {
		return 130
	}
	if runErr != nil {
		return 1
	}
	return 0
}

func setupLogging(cfg config.Logging) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildConnectors(platforms string, cat *catalog.Catalog, cfg config.Scraper) ([]connector.Connector, error) {
	var connectors []connector.Connector
	for _, name := range splitList(platforms) {
		switch models.Platform(name) {
		case models.PlatformZonaprop:
			connectors = append(connectors, connector.NewZonaprop(cat, cfg))
		case models.PlatformMercadoLibre:
			connectors = append(connectors, connector.NewMercadoLibre(cat, cfg))
		default:
			return nil, fmt.Errorf("unsupported platform: %s", name)
		}
	}
	return connectors, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printSummary(stats *ingestion.RunStatistics, runErr error) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("SCRAPING SUMMARY")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Total listings processed:  %d\n", stats.TotalListings)
	fmt.Printf("Listings inserted (new):   %d\n", stats.ListingsNew)
	fmt.Printf("Listings updated:          %d\n", stats.ListingsUpdated)
	fmt.Printf("Combinations attempted:    %d\n", stats.CombinationsAttempted)
	fmt.Printf("Combinations completed:    %d\n", stats.CombinationsCompleted)
	fmt.Printf("Errors:                    %d\n", stats.Errors)
	fmt.Printf("Duration:                  %s\n", stats.Duration().Round(time.Second))
	fmt.Printf("Throughput:                %.2f listings/minute\n", stats.ListingsPerMinute())
	if errors.Is(runErr, context.Canceled) {
		fmt.Println("Run interrupted, statistics above are partial.")
	} else if runErr != nil {
		fmt.Printf("Run failed: %v\n", runErr)
	}
	fmt.Println(strings.Repeat("=", 70))
}

// Package ingestion drives the multi-zone scraping runs: the Cartesian
// product of zones × operations per connector, with per-combination failure
// isolation, politeness delays and aggregated run statistics.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JCapurro/PropScraper/internal/catalog"
	"github.com/JCapurro/PropScraper/internal/connector"
	"github.com/JCapurro/PropScraper/internal/models"
	"github.com/JCapurro/PropScraper/internal/storage"
)

// Options selects what a run covers. Empty Zones/Operations default to the
// whole catalog; MaxPages == 0 walks every page.
type Options struct {
	Zones      []string
	Operations []string
	MaxPages   int
	Persist    bool
}

// RunStatistics aggregates one orchestrator invocation. The orchestrator is
// its single writer; readers get it only after Run returns.
type RunStatistics struct {
	TotalListings         int
	ListingsNew           int
	ListingsUpdated       int
	CombinationsAttempted int
	CombinationsCompleted int
	Errors                int
	StartTime             time.Time
	EndTime               time.Time
}

// Duration returns the wall-clock time of the run.
func (s *RunStatistics) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// ListingsPerMinute returns the run's throughput.
func (s *RunStatistics) ListingsPerMinute() float64 {
	minutes := s.Duration().Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(s.TotalListings) / minutes
}

// Orchestrator walks the requested zone×operation combinations for each
// registered connector and hands every yielded listing to the sink.
type Orchestrator struct {
	connectors       []connector.Connector
	catalog          *catalog.Catalog
	store            storage.Storage
	combinationDelay time.Duration
	logger           *slog.Logger
}

// NewOrchestrator creates an orchestrator. store may be nil when runs never
// persist.
func NewOrchestrator(connectors []connector.Connector, cat *catalog.Catalog, store storage.Storage, combinationDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		connectors:       connectors,
		catalog:          cat,
		store:            store,
		combinationDelay: combinationDelay,
		logger:           slog.With("component", "orchestrator"),
	}
}

// Run executes the scraping run. On cancellation it stops issuing requests
// and returns the partial statistics along with the context error; only
// whole-run failures (no connectors, empty catalog, missing sink) surface
// as other errors.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunStatistics, error) {
	stats := &RunStatistics{StartTime: time.Now().UTC()}

	if len(o.connectors) == 0 {
		stats.EndTime = time.Now().UTC()
		return stats, errors.New("no connectors registered")
	}
	if opts.Persist && o.store == nil {
		stats.EndTime = time.Now().UTC()
		return stats, errors.New("persistence requested but no storage configured")
	}

	zones := opts.Zones
	if len(zones) == 0 {
		zones = o.catalog.ZoneKeys()
	}
	operations := opts.Operations
	if len(operations) == 0 {
		operations = o.catalog.OperationKeys()
	}
	if len(zones) == 0 || len(operations) == 0 {
		stats.EndTime = time.Now().UTC()
		return stats, errors.New("catalog has no zones or operations")
	}

	o.logger.Info("starting run",
		"zones", zones, "operations", operations,
		"max_pages", opts.MaxPages, "persist", opts.Persist)

	total := len(o.connectors) * len(zones) * len(operations)
	current := 0

	for _, conn := range o.connectors {
		platformRun := &models.IngestionRun{
			Platform:  conn.Platform(),
			Status:    models.RunStarted,
			Timestamp: time.Now().UTC(),
		}
		o.recordRun(ctx, opts, platformRun)

		for _, zoneKey := range zones {
			for _, operationKey := range operations {
				if ctx.Err() != nil {
					o.finishRun(opts, platformRun, models.RunFailed)
					stats.EndTime = time.Now().UTC()
					o.logSummary(stats, "run interrupted")
					return stats, ctx.Err()
				}

				current++
				o.logger.Info("processing combination",
					"progress", fmt.Sprintf("%d/%d", current, total),
					"platform", conn.Platform(), "zone", zoneKey, "operation", operationKey)

				o.runCombination(ctx, conn, zoneKey, operationKey, opts, stats, platformRun)

				if current < total && o.combinationDelay > 0 && ctx.Err() == nil {
					select {
					case <-ctx.Done():
					case <-time.After(o.combinationDelay):
					}
				}
			}
		}

		o.finishRun(opts, platformRun, models.RunCompleted)
	}

	stats.EndTime = time.Now().UTC()
	o.logSummary(stats, "run finished")
	return stats, nil
}

// runCombination processes one zone×operation pair. Every failure mode here
// is contained: unknown keys skip the combination, transport errors end its
// pagination, item and write failures are counted and skipped.
func (o *Orchestrator) runCombination(ctx context.Context, conn connector.Connector, zoneKey, operationKey string, opts Options, stats *RunStatistics, platformRun *models.IngestionRun) {
	stats.CombinationsAttempted++

	stream, err := conn.Fetch(ctx, zoneKey, operationKey, opts.MaxPages)
	if err != nil {
		// Unknown zone/operation: warn and move on, never abort the run.
		o.logger.Warn("skipping combination",
			"platform", conn.Platform(), "zone", zoneKey, "operation", operationKey, "error", err)
		return
	}

	combinationListings := 0
	for {
		listing, ok := stream.Next(ctx)
		if !ok {
			break
		}

		stats.TotalListings++
		combinationListings++
		platformRun.ListingsProcessed++

		if opts.Persist {
			result, err := o.store.UpsertListing(ctx, listing)
			if err != nil {
				// A single write failure is never fatal to the run.
				stats.Errors++
				platformRun.Errors++
				o.logger.Error("failed to persist listing",
					"key", listing.NaturalKey(), "error", err)
				continue
			}
			switch result {
			case storage.UpsertInserted:
				stats.ListingsNew++
				platformRun.ListingsNew++
			case storage.UpsertUpdated:
				stats.ListingsUpdated++
				platformRun.ListingsUpdated++
			}
		}

		if combinationListings%50 == 0 {
			o.logger.Debug("progress", "zone", zoneKey, "operation", operationKey,
				"listings", combinationListings)
		}
	}

	itemErrors := stream.ItemErrors()
	stats.Errors += itemErrors
	platformRun.Errors += itemErrors

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		stats.Errors++
		platformRun.Errors++
		o.logger.Error("combination ended with transport error",
			"platform", conn.Platform(), "zone", zoneKey, "operation", operationKey,
			"pages_fetched", stream.PagesFetched(), "error", err)
		return
	}

	stats.CombinationsCompleted++
	o.logger.Info("combination completed",
		"platform", conn.Platform(), "zone", zoneKey, "operation", operationKey,
		"listings", combinationListings, "item_errors", itemErrors)
}

func (o *Orchestrator) recordRun(ctx context.Context, opts Options, run *models.IngestionRun) {
	if !opts.Persist || o.store == nil {
		return
	}
	if err := o.store.RecordRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run start", "platform", run.Platform, "error", err)
	}
}

func (o *Orchestrator) finishRun(opts Options, run *models.IngestionRun, status string) {
	if !opts.Persist || o.store == nil {
		return
	}
	run.Status = status
	run.Timestamp = time.Now().UTC()
	// Use a fresh context so the final record survives cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.RecordRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run end", "platform", run.Platform, "error", err)
	}
}

func (o *Orchestrator) logSummary(stats *RunStatistics, msg string) {
	o.logger.Info(msg,
		"total_listings", stats.TotalListings,
		"new", stats.ListingsNew,
		"updated", stats.ListingsUpdated,
		"combinations_attempted", stats.CombinationsAttempted,
		"combinations_completed", stats.CombinationsCompleted,
		"errors", stats.Errors,
		"duration", stats.Duration().Round(time.Millisecond),
		"listings_per_minute", fmt.Sprintf("%.2f", stats.ListingsPerMinute()),
	)
}

// Package storage implements the idempotent sink of the pipeline: keyed
// upserts of unified listings and ingestion run records, over pluggable
// backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

// UpsertResult reports whether an upsert created or replaced a record.
type UpsertResult string

const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"
)

// ErrNotFound is returned by GetListing when no record exists for the key.
var ErrNotFound = errors.New("listing not found")

// Storage is the contract every sink backend satisfies. UpsertListing must
// be idempotent: replaying the same listing yields the same stored state,
// never a second record.
type Storage interface {
	// UpsertListing merges the listing by its natural key and stamps
	// ingested_at. The caller's listing is not mutated.
	UpsertListing(ctx context.Context, listing *models.UnifiedListing) (UpsertResult, error)
	GetListing(ctx context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error)
	CountListings(ctx context.Context, platform models.Platform) (int64, error)
	RecordRun(ctx context.Context, run *models.IngestionRun) error
	Close(ctx context.Context) error
}

// NewStorage creates a storage instance based on configuration.
func NewStorage(ctx context.Context, cfg config.Storage) (Storage, error) {
	switch cfg.Type {
	case "mongodb":
		return NewMongoStorage(ctx, cfg)
	case "postgresql":
		return NewPostgresStorage(cfg)
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

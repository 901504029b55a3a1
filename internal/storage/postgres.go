package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

// PostgresStorage is the row-oriented alternative backend, sharing the exact
// schema of the document store. Images are kept as a JSONB array.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens the connection, waits for the database to come
// up, and bootstraps the schema.
func NewPostgresStorage(cfg config.Storage) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := &PostgresStorage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings_current (
			id                  TEXT PRIMARY KEY,
			platform            VARCHAR(50)  NOT NULL,
			platform_listing_id TEXT         NOT NULL,
			listing_url         TEXT,
			operation_type      VARCHAR(10)  NOT NULL,
			property_type       TEXT         NOT NULL,
			price               NUMERIC,
			currency            VARCHAR(3)   NOT NULL,
			expenses            NUMERIC,
			expenses_currency   VARCHAR(3),
			address_text        TEXT,
			geo_lat             DOUBLE PRECISION,
			geo_lng             DOUBLE PRECISION,
			surface_total       DOUBLE PRECISION,
			surface_covered     DOUBLE PRECISION,
			rooms               INTEGER,
			bedrooms            INTEGER,
			bathrooms           INTEGER,
			title               TEXT,
			description         TEXT,
			images              JSONB,
			agent_publisher     TEXT,
			status              VARCHAR(20)  NOT NULL DEFAULT 'active',
			source_created_at   TIMESTAMPTZ,
			source_updated_at   TIMESTAMPTZ,
			ingested_at         TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_platform       ON listings_current(platform);
		CREATE INDEX IF NOT EXISTS idx_listings_operation_type ON listings_current(operation_type);
		CREATE INDEX IF NOT EXISTS idx_listings_status         ON listings_current(status);
		CREATE INDEX IF NOT EXISTS idx_listings_price          ON listings_current(operation_type, property_type, price);
		CREATE INDEX IF NOT EXISTS idx_listings_ingested_at    ON listings_current(ingested_at DESC);

		CREATE TABLE IF NOT EXISTS ingestion_runs (
			id                 SERIAL PRIMARY KEY,
			platform           VARCHAR(50),
			status             VARCHAR(20),
			listings_processed INTEGER DEFAULT 0,
			listings_new       INTEGER DEFAULT 0,
			listings_updated   INTEGER DEFAULT 0,
			errors             INTEGER DEFAULT 0,
			timestamp          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_runs_platform_ts ON ingestion_runs(platform, timestamp DESC);
	`)
	return err
}

// UpsertListing inserts or overwrites the row for the natural key. The
// "xmax = 0" trick distinguishes a fresh insert from a conflict update.
func (s *PostgresStorage) UpsertListing(ctx context.Context, listing *models.UnifiedListing) (UpsertResult, error) {
	images, err := json.Marshal(listing.Images)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal images: %w", err)
	}

	var inserted bool
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO listings_current (
			id, platform, platform_listing_id, listing_url,
			operation_type, property_type, price, currency,
			expenses, expenses_currency, address_text, geo_lat, geo_lng,
			surface_total, surface_covered, rooms, bedrooms, bathrooms,
			title, description, images, agent_publisher, status,
			source_created_at, source_updated_at, ingested_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,
			$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
		)
		ON CONFLICT (id) DO UPDATE SET
			listing_url = EXCLUDED.listing_url,
			operation_type = EXCLUDED.operation_type,
			property_type = EXCLUDED.property_type,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			expenses = EXCLUDED.expenses,
			expenses_currency = EXCLUDED.expenses_currency,
			address_text = EXCLUDED.address_text,
			geo_lat = EXCLUDED.geo_lat,
			geo_lng = EXCLUDED.geo_lng,
			surface_total = EXCLUDED.surface_total,
			surface_covered = EXCLUDED.surface_covered,
			rooms = EXCLUDED.rooms,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			images = EXCLUDED.images,
			agent_publisher = EXCLUDED.agent_publisher,
			status = EXCLUDED.status,
			source_created_at = EXCLUDED.source_created_at,
			source_updated_at = EXCLUDED.source_updated_at,
			ingested_at = EXCLUDED.ingested_at
		RETURNING (xmax = 0)
	`,
		listing.NaturalKey(), listing.Platform, listing.PlatformListingID, listing.ListingURL,
		listing.OperationType, listing.PropertyType, listing.Price, listing.Currency,
		listing.Expenses, listing.ExpensesCurrency, listing.AddressText, listing.GeoLat, listing.GeoLng,
		listing.SurfaceTotal, listing.SurfaceCovered, listing.Rooms, listing.Bedrooms, listing.Bathrooms,
		listing.Title, listing.Description, images, listing.AgentPublisher, listing.Status,
		listing.SourceCreatedAt, listing.SourceUpdatedAt, time.Now().UTC(),
	).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("postgres: upsert %s: %w", listing.NaturalKey(), err)
	}

	if inserted {
		return UpsertInserted, nil
	}
	return UpsertUpdated, nil
}

// GetListing fetches one listing by natural key.
func (s *PostgresStorage) GetListing(ctx context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error) {
	key := string(platform) + models.KeySeparator + listingID

	var (
		l      models.UnifiedListing
		images []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT platform, platform_listing_id, listing_url, operation_type, property_type,
		       price, currency, expenses, expenses_currency, address_text, geo_lat, geo_lng,
		       surface_total, surface_covered, rooms, bedrooms, bathrooms,
		       title, description, images, agent_publisher, status,
		       source_created_at, source_updated_at, ingested_at
		FROM listings_current WHERE id = $1
	`, key).Scan(
		&l.Platform, &l.PlatformListingID, &l.ListingURL, &l.OperationType, &l.PropertyType,
		&l.Price, &l.Currency, &l.Expenses, &l.ExpensesCurrency, &l.AddressText, &l.GeoLat, &l.GeoLng,
		&l.SurfaceTotal, &l.SurfaceCovered, &l.Rooms, &l.Bedrooms, &l.Bathrooms,
		&l.Title, &l.Description, &images, &l.AgentPublisher, &l.Status,
		&l.SourceCreatedAt, &l.SourceUpdatedAt, &l.IngestedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}

	if len(images) > 0 {
		if err := json.Unmarshal(images, &l.Images); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal images for %s: %w", key, err)
		}
	}
	return &l, nil
}

// CountListings counts stored listings, optionally for one platform.
func (s *PostgresStorage) CountListings(ctx context.Context, platform models.Platform) (int64, error) {
	var (
		n   int64
		err error
	)
	if platform == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings_current`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings_current WHERE platform = $1`, platform).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// RecordRun appends an ingestion run record.
func (s *PostgresStorage) RecordRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (platform, status, listings_processed, listings_new, listings_updated, errors, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, run.Platform, run.Status, run.ListingsProcessed, run.ListingsNew, run.ListingsUpdated, run.Errors, run.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *PostgresStorage) Close(_ context.Context) error {
	return s.db.Close()
}

package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

const (
	listingsCollection = "DataLake"
	runsCollection     = "ingestion_runs"
)

// MongoStorage is the primary data lake backend. Listings are keyed by the
// natural key in _id and replaced wholesale on every upsert.
type MongoStorage struct {
	client   *mongo.Client
	listings *mongo.Collection
	runs     *mongo.Collection
}

// listingDocument wraps a unified listing with its natural key and the
// derived GeoJSON point used by the 2dsphere index.
type listingDocument struct {
	ID                    string `bson:"_id"`
	models.UnifiedListing `bson:",inline"`
	GeoLocation           *models.GeoPoint `bson:"geo_location,omitempty"`
}

// NewMongoStorage connects, verifies the connection and provisions the data
// lake indexes.
func NewMongoStorage(ctx context.Context, cfg config.Storage) (*MongoStorage, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb: ping %s: %w", cfg.MongoURI, err)
	}

	db := client.Database(cfg.MongoDatabase)
	s := &MongoStorage{
		client:   client,
		listings: db.Collection(listingsCollection),
		runs:     db.Collection(runsCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongodb: create indexes: %w", err)
	}

	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	listingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "platform", Value: 1}}},
		{Keys: bson.D{{Key: "platform_listing_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "platform_listing_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_platform_listing"),
		},
		{Keys: bson.D{{Key: "operation_type", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{
			Keys: bson.D{
				{Key: "operation_type", Value: 1},
				{Key: "property_type", Value: 1},
				{Key: "price", Value: 1},
			},
			Options: options.Index().SetName("search_operation_property_price"),
		},
		{Keys: bson.D{{Key: "source_created_at", Value: 1}}},
		{
			Keys:    bson.D{{Key: "ingested_at", Value: -1}},
			Options: options.Index().SetName("ingested_at_desc"),
		},
		{
			Keys:    bson.D{{Key: "geo_location", Value: "2dsphere"}},
			Options: options.Index().SetName("geo_location_2dsphere"),
		},
		{
			Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}},
			Options: options.Index().
				SetName("text_search_title_description").
				SetDefaultLanguage("spanish"),
		},
	}
	if _, err := s.listings.Indexes().CreateMany(ctx, listingIndexes); err != nil {
		return err
	}

	runIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "platform", Value: 1}}},
		{
			Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("platform_timestamp_desc"),
		},
	}
	_, err := s.runs.Indexes().CreateMany(ctx, runIndexes)
	return err
}

// UpsertListing replaces the document stored under the natural key, or
// inserts it when absent.
func (s *MongoStorage) UpsertListing(ctx context.Context, listing *models.UnifiedListing) (UpsertResult, error) {
	doc := listingDocument{
		ID:             listing.NaturalKey(),
		UnifiedListing: *listing,
		GeoLocation:    listing.GeoLocation(),
	}
	doc.IngestedAt = time.Now().UTC()

	res, err := s.listings.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return "", fmt.Errorf("mongodb: upsert %s: %w", doc.ID, err)
	}

	if res.UpsertedCount > 0 {
		return UpsertInserted, nil
	}
	return UpsertUpdated, nil
}

// GetListing fetches one listing by natural key.
func (s *MongoStorage) GetListing(ctx context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error) {
	key := string(platform) + models.KeySeparator + listingID

	var doc listingDocument
	err := s.listings.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: get %s: %w", key, err)
	}
	return &doc.UnifiedListing, nil
}

// CountListings counts stored listings, optionally for one platform.
func (s *MongoStorage) CountListings(ctx context.Context, platform models.Platform) (int64, error) {
	filter := bson.M{}
	if platform != "" {
		filter["platform"] = platform
	}
	n, err := s.listings.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodb: count: %w", err)
	}
	return n, nil
}

// RecordRun appends an ingestion run record.
func (s *MongoStorage) RecordRun(ctx context.Context, run *models.IngestionRun) error {
	if _, err := s.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("mongodb: record run: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/JCapurro/PropScraper/internal/models"
)

// MemoryStorage keeps everything in process memory. Used by tests and dry
// runs; safe for concurrent writers.
type MemoryStorage struct {
	mu       sync.RWMutex
	listings map[string]models.UnifiedListing
	runs     []models.IngestionRun
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		listings: make(map[string]models.UnifiedListing),
	}
}

// UpsertListing stores a copy of the listing under its natural key.
func (s *MemoryStorage) UpsertListing(_ context.Context, listing *models.UnifiedListing) (UpsertResult, error) {
	stored := *listing
	stored.IngestedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := listing.NaturalKey()
	_, exists := s.listings[key]
	s.listings[key] = stored

	if exists {
		return UpsertUpdated, nil
	}
	return UpsertInserted, nil
}

// GetListing fetches one listing by natural key.
func (s *MemoryStorage) GetListing(_ context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[string(platform)+models.KeySeparator+listingID]
	if !ok {
		return nil, ErrNotFound
	}
	out := listing
	return &out, nil
}

// CountListings counts stored listings, optionally for one platform.
func (s *MemoryStorage) CountListings(_ context.Context, platform models.Platform) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if platform == "" {
		return int64(len(s.listings)), nil
	}
	var n int64
	for _, l := range s.listings {
		if l.Platform == platform {
			n++
		}
	}
	return n, nil
}

// RecordRun appends an ingestion run record.
func (s *MemoryStorage) RecordRun(_ context.Context, run *models.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

// Runs returns the recorded ingestion runs, for tests.
func (s *MemoryStorage) Runs() []models.IngestionRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IngestionRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// Close is a no-op.
func (s *MemoryStorage) Close(_ context.Context) error {
	return nil
}

package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JCapurro/PropScraper/internal/catalog"
	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/connector"
	"github.com/JCapurro/PropScraper/internal/models"
	"github.com/JCapurro/PropScraper/internal/storage"
)

func postingItem(id int, operation string) map[string]any {
	return map[string]any{
		"postingId": strconv.Itoa(id),
		"url":       "/propiedades/" + strconv.Itoa(id) + ".html",
		"title":     "Departamento " + strconv.Itoa(id),
		"priceOperationTypes": []map[string]any{{
			"operationType": map[string]any{"name": operation},
			"prices":        []map[string]any{{"amount": 1000 * id, "currency": "USD"}},
		}},
	}
}

// newUpstream serves single-page search results, switching on the requested
// operation code: 5 sale postings for "1", 3 rent postings for "2".
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			OperationType string `json:"tipoDeOperacion"`
			Page          int    `json:"page"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		var items []map[string]any
		switch payload.OperationType {
		case "1":
			for i := 1; i <= 5; i++ {
				items = append(items, postingItem(i, "Venta"))
			}
		case "2":
			for i := 100; i < 103; i++ {
				items = append(items, postingItem(i, "Alquiler"))
			}
		}

		resp := map[string]any{
			"paging":       map[string]any{"currentPage": payload.Page, "totalPages": 1, "lastPage": true},
			"listPostings": items,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testConnector(baseURL string) connector.Connector {
	return connector.NewZonaprop(catalog.Default(), config.Scraper{
		ZonapropBaseURL: baseURL,
		UserAgent:       "test-agent",
		HTTPTimeout:     5 * time.Second,
		RetryCount:      1,
		PageDelay:       0,
	})
}

func TestRunSingleZoneBothOperations(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	store := storage.NewMemoryStorage()
	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), store, 0)

	stats, err := orch.Run(context.Background(), Options{
		Zones:      []string{"capital_federal"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
		Persist:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, stats.TotalListings)
	assert.Equal(t, 8, stats.ListingsNew)
	assert.Equal(t, 0, stats.ListingsUpdated)
	assert.Equal(t, 2, stats.CombinationsAttempted)
	assert.Equal(t, 2, stats.CombinationsCompleted)
	assert.Equal(t, 0, stats.Errors)
	assert.False(t, stats.EndTime.Before(stats.StartTime))

	n, err := store.CountListings(context.Background(), models.PlatformZonaprop)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)

	// One started and one completed record for the platform.
	runs := store.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, models.RunStarted, runs[0].Status)
	assert.Equal(t, models.RunCompleted, runs[1].Status)
	assert.Equal(t, 8, runs[1].ListingsProcessed)
}

func TestRunIsIdempotentAcrossInvocations(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	store := storage.NewMemoryStorage()
	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), store, 0)
	opts := Options{
		Zones:      []string{"capital_federal"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
		Persist:    true,
	}

	_, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)

	stats, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 8, stats.TotalListings)
	assert.Equal(t, 0, stats.ListingsNew, "second pass replays the same listings")
	assert.Equal(t, 8, stats.ListingsUpdated)

	n, err := store.CountListings(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 8, n, "replaying a run must not grow the data lake")
}

func TestRunSkipsUnknownZone(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), nil, 0)

	stats, err := orch.Run(context.Background(), Options{
		Zones:      []string{"capital_federal", "atlantis"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
	})
	require.NoError(t, err, "an unknown zone must not abort the run")

	assert.Equal(t, 4, stats.CombinationsAttempted)
	assert.Equal(t, 2, stats.CombinationsCompleted)
	assert.Equal(t, 8, stats.TotalListings, "the valid zone is still processed in full")
}

func TestRunIsolatesUpstreamFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload struct {
			OperationType string `json:"tipoDeOperacion"`
			Page          int    `json:"page"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if payload.OperationType == "1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"paging":       map[string]any{"currentPage": payload.Page, "totalPages": 1, "lastPage": true},
			"listPostings": []map[string]any{postingItem(1, "Alquiler")},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), nil, 0)

	stats, err := orch.Run(context.Background(), Options{
		Zones:      []string{"capital_federal"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.CombinationsAttempted)
	assert.Equal(t, 1, stats.CombinationsCompleted, "the failing combination is not marked completed")
	assert.Equal(t, 1, stats.TotalListings, "the healthy combination still ran")
	assert.Equal(t, 1, stats.Errors)
}

// MockStorage fails every write, to exercise the persistence error path.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) UpsertListing(ctx context.Context, listing *models.UnifiedListing) (storage.UpsertResult, error) {
	args := m.Called(ctx, listing)
	return args.Get(0).(storage.UpsertResult), args.Error(1)
}

func (m *MockStorage) GetListing(ctx context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error) {
	args := m.Called(ctx, platform, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UnifiedListing), args.Error(1)
}

func (m *MockStorage) CountListings(ctx context.Context, platform models.Platform) (int64, error) {
	args := m.Called(ctx, platform)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) RecordRun(ctx context.Context, run *models.IngestionRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStorage) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestRunCountsWriteFailuresAndContinues(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	store := new(MockStorage)
	store.On("RecordRun", mock.Anything, mock.Anything).Return(nil)
	store.On("UpsertListing", mock.Anything, mock.Anything).
		Return(storage.UpsertResult(""), errors.New("connection lost"))

	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), store, 0)

	stats, err := orch.Run(context.Background(), Options{
		Zones:      []string{"capital_federal"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
		Persist:    true,
	})
	require.NoError(t, err, "write failures never fail the run")

	assert.Equal(t, 8, stats.TotalListings)
	assert.Equal(t, 8, stats.Errors, "each failed write is counted once")
	assert.Equal(t, 0, stats.ListingsNew)
	assert.Equal(t, 2, stats.CombinationsCompleted, "pagination itself succeeded")
	store.AssertNumberOfCalls(t, "UpsertListing", 8)
}

func TestRunReturnsPartialStatsOnCancellation(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := orch.Run(ctx, Options{
		Zones:      []string{"capital_federal"},
		Operations: []string{"sale", "rent"},
		MaxPages:   1,
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats, "partial statistics are always returned")
	assert.Equal(t, 0, stats.CombinationsAttempted)
	assert.False(t, stats.EndTime.IsZero())
}

func TestRunRequiresConnectorsAndSink(t *testing.T) {
	orch := NewOrchestrator(nil, catalog.Default(), nil, 0)
	_, err := orch.Run(context.Background(), Options{})
	assert.Error(t, err)

	srv := newUpstream(t)
	defer srv.Close()

	orch = NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, catalog.Default(), nil, 0)
	_, err = orch.Run(context.Background(), Options{Persist: true})
	assert.Error(t, err, "persisting without a configured sink is a whole-run failure")
}

func TestRunDefaultsToFullCatalog(t *testing.T) {
	srv := newUpstream(t)
	defer srv.Close()

	cat := catalog.Default()
	orch := NewOrchestrator([]connector.Connector{testConnector(srv.URL)}, cat, nil, 0)

	stats, err := orch.Run(context.Background(), Options{MaxPages: 1})
	require.NoError(t, err)

	want := len(cat.ZoneKeys()) * len(cat.OperationKeys())
	assert.Equal(t, want, stats.CombinationsAttempted)
	assert.Equal(t, want, stats.CombinationsCompleted)
}

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JCapurro/PropScraper/internal/catalog"
	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

// meliPageSize is the public search API ceiling.
const meliPageSize = 50

// meliRealEstateCategory is the MLA real estate root category.
const meliRealEstateCategory = "MLA1459"

// MercadoLibre queries the public MercadoLibre site search API with
// offset-based pagination.
type MercadoLibre struct {
	catalog *catalog.Catalog
	cfg     config.Scraper
	client  *http.Client
	logger  *slog.Logger
}

// NewMercadoLibre creates a mercadolibre connector.
func NewMercadoLibre(cat *catalog.Catalog, cfg config.Scraper) *MercadoLibre {
	return &MercadoLibre{
		catalog: cat,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  slog.With("component", "connector", "platform", models.PlatformMercadoLibre),
	}
}

// Platform implements Connector.
func (m *MercadoLibre) Platform() models.Platform {
	return models.PlatformMercadoLibre
}

// Fetch implements Connector.
func (m *MercadoLibre) Fetch(ctx context.Context, zoneKey, operationKey string, maxPages int) (*Stream, error) {
	zone, ok := m.catalog.Zone(zoneKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zoneKey)
	}
	op, ok := m.catalog.Operation(operationKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operationKey)
	}

	m.logger.Info("starting fetch",
		"zone", zone.DisplayName, "operation", op.DisplayName, "max_pages", maxPages)

	fetch := func(ctx context.Context, page int) ([]*models.UnifiedListing, int, bool, error) {
		return m.fetchPage(ctx, zone, op, page)
	}
	return newStream(fetch, m.cfg.PageDelay, maxPages), nil
}

func (m *MercadoLibre) fetchPage(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) ([]*models.UnifiedListing, int, bool, error) {
	resp, err := m.search(ctx, zone, op, page)
	if err != nil {
		return nil, 0, false, err
	}

	now := time.Now().UTC()
	items := make([]*models.UnifiedListing, 0, len(resp.Results))
	itemErrors := 0

	for i := range resp.Results {
		listing, err := normalizeMeliResult(&resp.Results[i], m.cfg.MercadoLibreBaseURL, now)
		if err == nil {
			err = listing.Validate()
		}
		if err != nil {
			itemErrors++
			m.logger.Warn("skipping result", "page", page, "error", err)
			continue
		}
		items = append(items, listing)
	}

	last := resp.Paging.Offset+resp.Paging.Limit >= resp.Paging.Total
	return items, itemErrors, last, nil
}

func (m *MercadoLibre) search(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) (*meliSearchResponse, error) {
	var lastErr error

	for attempt := 0; attempt < m.cfg.RetryCount; attempt++ {
		resp, err := m.searchOnce(ctx, zone, op, page)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if attempt < m.cfg.RetryCount-1 {
			wait := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("page %d failed after %d attempts: %w", page, m.cfg.RetryCount, lastErr)
}

func (m *MercadoLibre) searchOnce(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) (*meliSearchResponse, error) {
	params := url.Values{}
	params.Set("category", meliRealEstateCategory)
	params.Set("OPERATION", op.MeliOperationID)
	if zone.MeliStateID != "" {
		params.Set("state", zone.MeliStateID)
	}
	params.Set("offset", strconv.Itoa((page-1)*meliPageSize))
	params.Set("limit", strconv.Itoa(meliPageSize))

	endpoint := m.cfg.MercadoLibreBaseURL + "/sites/MLA/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	httpResp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", httpResp.StatusCode)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var resp meliSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

type meliSearchResponse struct {
	Paging  meliPaging   `json:"paging"`
	Results []meliResult `json:"results"`
}

type meliPaging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type meliResult struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Price      *float64        `json:"price"`
	CurrencyID string          `json:"currency_id"`
	Permalink  string          `json:"permalink"`
	Thumbnail  string          `json:"thumbnail"`
	DomainID   string          `json:"domain_id"`
	Location   meliLocation    `json:"location"`
	Seller     *meliSeller     `json:"seller"`
	Attributes []meliAttribute `json:"attributes"`
}

type meliLocation struct {
	AddressLine string   `json:"address_line"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

type meliSeller struct {
	Nickname string `json:"nickname"`
}

type meliAttribute struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ValueName string `json:"value_name"`
}

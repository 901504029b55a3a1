package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JCapurro/PropScraper/internal/catalog"
	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

// zonapropPageSize is the upstream ceiling; larger limits are rejected.
const zonapropPageSize = 30

const zonapropSearchPath = "/rplis-api/postings?dynamicListingSearch=true"

// Zonaprop queries the zonaprop.com.ar postings search API.
type Zonaprop struct {
	catalog *catalog.Catalog
	cfg     config.Scraper
	client  *http.Client
	logger  *slog.Logger
}

// NewZonaprop creates a zonaprop connector.
func NewZonaprop(cat *catalog.Catalog, cfg config.Scraper) *Zonaprop {
	return &Zonaprop{
		catalog: cat,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  slog.With("component", "connector", "platform", models.PlatformZonaprop),
	}
}

// Platform implements Connector.
func (z *Zonaprop) Platform() models.Platform {
	return models.PlatformZonaprop
}

// Fetch implements Connector.
func (z *Zonaprop) Fetch(ctx context.Context, zoneKey, operationKey string, maxPages int) (*Stream, error) {
	zone, ok := z.catalog.Zone(zoneKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zoneKey)
	}
	op, ok := z.catalog.Operation(operationKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operationKey)
	}

	z.logger.Info("starting fetch",
		"zone", zone.DisplayName, "operation", op.DisplayName, "max_pages", maxPages)

	fetch := func(ctx context.Context, page int) ([]*models.UnifiedListing, int, bool, error) {
		return z.fetchPage(ctx, zone, op, page)
	}
	return newStream(fetch, z.cfg.PageDelay, maxPages), nil
}

func (z *Zonaprop) fetchPage(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) ([]*models.UnifiedListing, int, bool, error) {
	resp, err := z.search(ctx, zone, op, page)
	if err != nil {
		return nil, 0, false, err
	}

	now := time.Now().UTC()
	items := make([]*models.UnifiedListing, 0, len(resp.ListPostings))
	itemErrors := 0

	for i := range resp.ListPostings {
		listing, err := normalizeZonapropPosting(&resp.ListPostings[i], z.cfg.ZonapropBaseURL, now)
		if err == nil {
			err = listing.Validate()
		}
		if err != nil {
			itemErrors++
			z.logger.Warn("skipping posting", "page", page, "error", err)
			continue
		}
		items = append(items, listing)
	}

	return items, itemErrors, resp.Paging.LastPage, nil
}

// search fetches one result page, retrying transient failures with
// exponential backoff before giving up.
func (z *Zonaprop) search(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) (*zonapropResponse, error) {
	var lastErr error

	for attempt := 0; attempt < z.cfg.RetryCount; attempt++ {
		resp, err := z.searchOnce(ctx, zone, op, page)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if attempt < z.cfg.RetryCount-1 {
			wait := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("page %d failed after %d attempts: %w", page, z.cfg.RetryCount, lastErr)
}

func (z *Zonaprop) searchOnce(ctx context.Context, zone catalog.ZoneConfig, op catalog.OperationConfig, page int) (*zonapropResponse, error) {
	payload := zonapropSearchPayload{
		PropertyType:     "2",
		OperationType:    op.Code,
		PreOperationType: op.Code,
		Province:         zone.ProvinceCode,
		AdvertiserType:   "ALL",
		Sort:             "relevance",
		CoveredSurface:   1,
		MeasurementUnit:  1,
		Page:             page,
		Offset:           (page - 1) * zonapropPageSize,
		Limit:            zonapropPageSize,
	}
	if zone.ZoneCode != "" {
		payload.Zone = &zone.ZoneCode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.ZonapropBaseURL+zonapropSearchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "es-AR,es;q=0.8,en-US;q=0.5,en;q=0.3")
	req.Header.Set("User-Agent", z.cfg.UserAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", z.cfg.ZonapropBaseURL)
	req.Header.Set("Referer", z.cfg.ZonapropBaseURL+"/inmuebles-venta-capital-federal.html")

	httpResp, err := z.client.Do(req)
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

	var resp zonapropResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// zonapropSearchPayload is the filter document the postings API expects.
// Field names are upstream's, in Spanish.
type zonapropSearchPayload struct {
	PropertyType     string  `json:"tipoDePropiedad"`
	OperationType    string  `json:"tipoDeOperacion"`
	PreOperationType string  `json:"preTipoDeOperacion"`
	Province         string  `json:"province"`
	Zone             *string `json:"zone"`
	AdvertiserType   string  `json:"tipoAnunciante"`
	Sort             string  `json:"sort"`
	CoveredSurface   int     `json:"superficieCubierta"`
	MeasurementUnit  int     `json:"idunidaddemedida"`
	Page             int     `json:"page"`
	Offset           int     `json:"offset"`
	Limit            int     `json:"limit"`
}

type zonapropResponse struct {
	Paging       zonapropPaging    `json:"paging"`
	ListPostings []zonapropPosting `json:"listPostings"`
}

type zonapropPaging struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	Total       int  `json:"total"`
	Offset      int  `json:"offset"`
	Limit       int  `json:"limit"`
	LastPage    bool `json:"lastPage"`
}

type zonapropPosting struct {
	PostingID             flexString              `json:"postingId"`
	ID                    flexString              `json:"id"`
	URL                   string                  `json:"url"`
	Title                 string                  `json:"title"`
	Description           string                  `json:"description"`
	DescriptionNormalized string                  `json:"descriptionNormalized"`
	PriceOperationTypes   []zonapropOperationType `json:"priceOperationTypes"`
	Expenses              *zonapropExpenses       `json:"expenses"`
	PostingLocation       zonapropLocation        `json:"postingLocation"`
	MainFeatures          map[string]zonapropFeature `json:"mainFeatures"`
	VisiblePictures       zonapropPictures        `json:"visiblePictures"`
	Publisher             *zonapropPublisher      `json:"publisher"`
	RealEstateType        *zonapropRealEstateType `json:"realEstateType"`
	ModifiedDate          string                  `json:"modified_date"`
}

type zonapropOperationType struct {
	OperationType struct {
		Name string `json:"name"`
	} `json:"operationType"`
	Prices []zonapropPrice `json:"prices"`
}

type zonapropPrice struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type zonapropExpenses struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
}

type zonapropLocation struct {
	Address struct {
		Name string `json:"name"`
	} `json:"address"`
	PostingGeolocation struct {
		Geolocation struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"geolocation"`
	} `json:"postingGeolocation"`
}

type zonapropFeature struct {
	Label string     `json:"label"`
	Value flexString `json:"value"`
}

type zonapropPictures struct {
	Pictures []zonapropPicture `json:"pictures"`
}

type zonapropPicture struct {
	URL730x532 string `json:"url730x532"`
	URL360x266 string `json:"url360x266"`
}

type zonapropPublisher struct {
	Name string `json:"name"`
}

type zonapropRealEstateType struct {
	Name string `json:"name"`
}

// flexString tolerates upstream fields that arrive as either JSON strings
// or numbers, which zonaprop does for ids and feature values.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

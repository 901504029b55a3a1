package connector

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JCapurro/PropScraper/internal/models"
)

// zonaprop mainFeatures keys.
const (
	featSurfaceTotal   = "CFT100"
	featSurfaceCovered = "CFT101"
	featRooms          = "CFT1"
	featBedrooms       = "CFT2"
	featBathrooms      = "CFT3"
)

// normalizeZonapropPosting maps one raw posting onto the unified schema.
// Pure function, no I/O; per-item failures are returned to the caller so a
// single malformed posting never aborts its page.
func normalizeZonapropPosting(p *zonapropPosting, baseURL string, now time.Time) (*models.UnifiedListing, error) {
	// First non-empty id candidate wins; without a key there is no upsert.
	id := strings.TrimSpace(string(p.PostingID))
	if id == "" {
		id = strings.TrimSpace(string(p.ID))
	}
	if id == "" {
		return nil, ErrMissingListingID
	}

	listingURL := p.URL
	if strings.HasPrefix(listingURL, "/") {
		listingURL = baseURL + listingURL
	}

	operationType := models.OperationSale
	price := 0.0
	currency := models.CurrencyUSD
	if len(p.PriceOperationTypes) > 0 {
		opData := p.PriceOperationTypes[0]
		if strings.Contains(strings.ToLower(opData.OperationType.Name), "alquiler") {
			operationType = models.OperationRent
		}
		if len(opData.Prices) > 0 {
			price = opData.Prices[0].Amount
			if c := models.Currency(opData.Prices[0].Currency); knownCurrency(c) {
				currency = c
			}
		}
	}
	if price < 0 {
		price = 0
	}

	var expenses *float64
	var expensesCurrency *models.Currency
	if p.Expenses != nil && p.Expenses.Amount != nil && *p.Expenses.Amount > 0 {
		amount := *p.Expenses.Amount
		expenses = &amount
		if c := models.Currency(p.Expenses.Currency); knownCurrency(c) {
			expensesCurrency = &c
		}
	}

	geo := p.PostingLocation.PostingGeolocation.Geolocation
	geoLat, geoLng := geo.Latitude, geo.Longitude
	// Coordinate invariant is applied at normalization time.
	if (geoLat == nil) != (geoLng == nil) {
		geoLat, geoLng = nil, nil
	}

	surfaceTotal := featureValue(p.MainFeatures, featSurfaceTotal)
	surfaceCovered := featureValue(p.MainFeatures, featSurfaceCovered)
	rooms := featureInt(p.MainFeatures, featRooms)
	bedrooms := featureInt(p.MainFeatures, featBedrooms)
	bathrooms := featureInt(p.MainFeatures, featBathrooms)

	images := make([]string, 0, len(p.VisiblePictures.Pictures))
	for _, pic := range p.VisiblePictures.Pictures {
		url := pic.URL730x532
		if url == "" {
			url = pic.URL360x266
		}
		if url != "" {
			images = append(images, url)
		}
	}

	var agent *string
	if p.Publisher != nil && p.Publisher.Name != "" {
		name := p.Publisher.Name
		agent = &name
	}

	propertyType := "unknown"
	if p.RealEstateType != nil && p.RealEstateType.Name != "" {
		propertyType = strings.ToLower(p.RealEstateType.Name)
	}

	createdAt := now
	var updatedAt *time.Time
	if p.ModifiedDate != "" {
		// Upstream format: 2026-01-20T11:49:39-0500
		if t, err := time.Parse("2006-01-02T15:04:05-0700", p.ModifiedDate); err == nil {
			updatedAt = &t
		}
	}

	return &models.UnifiedListing{
		Platform:          models.PlatformZonaprop,
		PlatformListingID: id,
		ListingURL:        listingURL,
		OperationType:     operationType,
		PropertyType:      propertyType,
		Price:             &price,
		Currency:          currency,
		Expenses:          expenses,
		ExpensesCurrency:  expensesCurrency,
		AddressText:       optionalString(p.PostingLocation.Address.Name),
		GeoLat:            geoLat,
		GeoLng:            geoLng,
		SurfaceTotal:      surfaceTotal,
		SurfaceCovered:    surfaceCovered,
		Rooms:             rooms,
		Bedrooms:          bedrooms,
		Bathrooms:         bathrooms,
		Title:             optionalString(p.Title),
		Description:       optionalString(firstNonEmpty(p.DescriptionNormalized, p.Description)),
		Images:            images,
		AgentPublisher:    agent,
		Status:            models.StatusActive,
		SourceCreatedAt:   &createdAt,
		SourceUpdatedAt:   updatedAt,
	}, nil
}

// featureValue extracts a non-negative number from the generic key→value
// feature map; anything that does not parse is treated as absent.
func featureValue(features map[string]zonapropFeature, key string) *float64 {
	feat, ok := features[key]
	if !ok {
		return nil
	}
	raw := strings.TrimSpace(string(feat.Value))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// featureInt floors a feature value to an integer count.
func featureInt(features map[string]zonapropFeature, key string) *int {
	v := featureValue(features, key)
	if v == nil {
		return nil
	}
	n := int(math.Floor(*v))
	return &n
}

func knownCurrency(c models.Currency) bool {
	return c == models.CurrencyARS || c == models.CurrencyUSD || c == models.CurrencyEUR
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

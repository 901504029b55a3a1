package connector

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JCapurro/PropScraper/internal/models"
)

// mercadolibre attribute ids carrying the physical features.
const (
	attrOperation     = "OPERATION"
	attrPropertyType  = "PROPERTY_TYPE"
	attrTotalArea     = "TOTAL_AREA"
	attrCoveredArea   = "COVERED_AREA"
	attrRooms         = "ROOMS"
	attrBedrooms      = "BEDROOMS"
	attrFullBathrooms = "FULL_BATHROOMS"
)

// normalizeMeliResult maps one search result onto the unified schema.
func normalizeMeliResult(r *meliResult, baseURL string, now time.Time) (*models.UnifiedListing, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return nil, ErrMissingListingID
	}

	listingURL := r.Permalink
	if strings.HasPrefix(listingURL, "/") {
		listingURL = baseURL + listingURL
	}

	attrs := make(map[string]string, len(r.Attributes))
	for _, a := range r.Attributes {
		attrs[a.ID] = a.ValueName
	}

	// Rental detection mirrors the Spanish operation label; the domain id
	// (e.g. MLA-APARTMENTS_FOR_RENT) is the fallback signal.
	operationType := models.OperationSale
	if strings.Contains(strings.ToLower(attrs[attrOperation]), "alquiler") ||
		strings.Contains(r.DomainID, "FOR_RENT") {
		operationType = models.OperationRent
	}

	price := 0.0
	if r.Price != nil && *r.Price > 0 {
		price = *r.Price
	}
	currency := models.CurrencyARS
	if c := models.Currency(r.CurrencyID); knownCurrency(c) {
		currency = c
	}

	propertyType := "unknown"
	if v := strings.TrimSpace(attrs[attrPropertyType]); v != "" {
		propertyType = strings.ToLower(v)
	}

	geoLat, geoLng := r.Location.Latitude, r.Location.Longitude
	if (geoLat == nil) != (geoLng == nil) {
		geoLat, geoLng = nil, nil
	}

	var images []string
	if r.Thumbnail != "" {
		images = append(images, r.Thumbnail)
	}

	var agent *string
	if r.Seller != nil && r.Seller.Nickname != "" {
		nickname := r.Seller.Nickname
		agent = &nickname
	}

	createdAt := now

	return &models.UnifiedListing{
		Platform:          models.PlatformMercadoLibre,
		PlatformListingID: id,
		ListingURL:        listingURL,
		OperationType:     operationType,
		PropertyType:      propertyType,
		Price:             &price,
		Currency:          currency,
		AddressText:       optionalString(r.Location.AddressLine),
		GeoLat:            geoLat,
		GeoLng:            geoLng,
		SurfaceTotal:      attributeValue(attrs, attrTotalArea),
		SurfaceCovered:    attributeValue(attrs, attrCoveredArea),
		Rooms:             attributeInt(attrs, attrRooms),
		Bedrooms:          attributeInt(attrs, attrBedrooms),
		Bathrooms:         attributeInt(attrs, attrFullBathrooms),
		Title:             optionalString(r.Title),
		Images:            images,
		AgentPublisher:    agent,
		Status:            models.StatusActive,
		SourceCreatedAt:   &createdAt,
	}, nil
}

// attributeValue parses the numeric prefix of an attribute value such as
// "45 m²"; non-numeric or negative values are treated as absent.
func attributeValue(attrs map[string]string, key string) *float64 {
	raw := strings.TrimSpace(attrs[key])
	if raw == "" {
		return nil
	}
	if i := strings.IndexByte(raw, ' '); i > 0 {
		raw = raw[:i]
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

func attributeInt(attrs map[string]string, key string) *int {
	v := attributeValue(attrs, key)
	if v == nil {
		return nil
	}
	n := int(math.Floor(*v))
	return &n
}

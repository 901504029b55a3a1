package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a source listing platform.
type Platform string

const (
	PlatformZonaprop     Platform = "zonaprop"
	PlatformMercadoLibre Platform = "mercadolibre"
	PlatformProperati    Platform = "properati"
	PlatformArgenprop    Platform = "argenprop"
)

// KnownPlatforms is the set of platforms the data lake accepts.
var KnownPlatforms = map[Platform]bool{
	PlatformZonaprop:     true,
	PlatformMercadoLibre: true,
	PlatformProperati:    true,
	PlatformArgenprop:    true,
}

// OperationType classifies the transaction offered by a listing.
type OperationType string

const (
	OperationSale OperationType = "sale"
	OperationRent OperationType = "rent"
)

// ListingStatus tracks a listing's lifecycle on the source platform.
// Status is written once at ingestion; there is no delisting detector.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusDelisted ListingStatus = "delisted"
	StatusPaused   ListingStatus = "paused"
	StatusSold     ListingStatus = "sold"
	StatusRented   ListingStatus = "rented"
)

// Currency is an ISO 4217 code accepted by the data lake.
type Currency string

const (
	CurrencyARS Currency = "ARS"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

var knownCurrencies = map[Currency]bool{
	CurrencyARS: true,
	CurrencyUSD: true,
	CurrencyEUR: true,
}

// KeySeparator joins platform and platform listing id into the natural key.
const KeySeparator = ":"

// GeoPoint is a GeoJSON Point in [longitude, latitude] order, derived from
// the listing coordinates for 2dsphere queries. It is storage-only and never
// authoritative over GeoLat/GeoLng.
type GeoPoint struct {
	Type        string     `bson:"type" json:"type"`
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

// UnifiedListing is the canonical listing record every connector normalizes
// into. It is constructed once per fetched item and never mutated afterwards;
// only the storage layer sets IngestedAt at write time.
type UnifiedListing struct {
	Platform          Platform      `bson:"platform" json:"platform"`
	PlatformListingID string        `bson:"platform_listing_id" json:"platform_listing_id"`
	ListingURL        string        `bson:"listing_url" json:"listing_url"`
	OperationType     OperationType `bson:"operation_type" json:"operation_type"`
	PropertyType      string        `bson:"property_type" json:"property_type"`

	Price            *float64  `bson:"price" json:"price"`
	Currency         Currency  `bson:"currency" json:"currency"`
	Expenses         *float64  `bson:"expenses,omitempty" json:"expenses,omitempty"`
	ExpensesCurrency *Currency `bson:"expenses_currency,omitempty" json:"expenses_currency,omitempty"`

	AddressText *string  `bson:"address_text,omitempty" json:"address_text,omitempty"`
	GeoLat      *float64 `bson:"geo_lat,omitempty" json:"geo_lat,omitempty"`
	GeoLng      *float64 `bson:"geo_lng,omitempty" json:"geo_lng,omitempty"`

	SurfaceTotal   *float64 `bson:"surface_total,omitempty" json:"surface_total,omitempty"`
	SurfaceCovered *float64 `bson:"surface_covered,omitempty" json:"surface_covered,omitempty"`
	Rooms          *int     `bson:"rooms,omitempty" json:"rooms,omitempty"`
	Bedrooms       *int     `bson:"bedrooms,omitempty" json:"bedrooms,omitempty"`
	Bathrooms      *int     `bson:"bathrooms,omitempty" json:"bathrooms,omitempty"`

	Title          *string  `bson:"title,omitempty" json:"title,omitempty"`
	Description    *string  `bson:"description,omitempty" json:"description,omitempty"`
	Images         []string `bson:"images" json:"images"`
	AgentPublisher *string  `bson:"agent_publisher,omitempty" json:"agent_publisher,omitempty"`

	Status ListingStatus `bson:"status" json:"status"`

	// SourceCreatedAt and SourceUpdatedAt come from the source platform's
	// clock. When the source provides no modification timestamp, connectors
	// fall back to ingestion wall-clock, so both are approximations.
	SourceCreatedAt *time.Time `bson:"source_created_at,omitempty" json:"source_created_at,omitempty"`
	SourceUpdatedAt *time.Time `bson:"source_updated_at,omitempty" json:"source_updated_at,omitempty"`

	// IngestedAt is set by the storage layer on every upsert.
	IngestedAt time.Time `bson:"ingested_at" json:"ingested_at"`
}

// NaturalKey returns the deduplication key "platform:platform_listing_id".
func (l *UnifiedListing) NaturalKey() string {
	return string(l.Platform) + KeySeparator + l.PlatformListingID
}

// GeoLocation derives the GeoJSON point when both coordinates are present.
func (l *UnifiedListing) GeoLocation() *GeoPoint {
	if l.GeoLat == nil || l.GeoLng == nil {
		return nil
	}
	return &GeoPoint{
		Type:        "Point",
		Coordinates: [2]float64{*l.GeoLng, *l.GeoLat},
	}
}

// Validate checks the record against the data lake schema. Connectors call
// it before yielding so malformed items never reach storage.
func (l *UnifiedListing) Validate() error {
	if !KnownPlatforms[l.Platform] {
		return fmt.Errorf("unknown platform %q", l.Platform)
	}
	if strings.TrimSpace(l.PlatformListingID) == "" {
		return fmt.Errorf("empty platform_listing_id")
	}
	if l.OperationType != OperationSale && l.OperationType != OperationRent {
		return fmt.Errorf("invalid operation_type %q", l.OperationType)
	}
	if !knownCurrencies[l.Currency] {
		return fmt.Errorf("invalid currency %q", l.Currency)
	}
	if l.Price != nil && *l.Price < 0 {
		return fmt.Errorf("negative price %f", *l.Price)
	}
	if l.Expenses != nil && *l.Expenses < 0 {
		return fmt.Errorf("negative expenses %f", *l.Expenses)
	}
	if l.ExpensesCurrency != nil && !knownCurrencies[*l.ExpensesCurrency] {
		return fmt.Errorf("invalid expenses_currency %q", *l.ExpensesCurrency)
	}
	if (l.GeoLat == nil) != (l.GeoLng == nil) {
		return fmt.Errorf("coordinates must be both present or both absent")
	}
	if l.GeoLat != nil && (*l.GeoLat < -90 || *l.GeoLat > 90) {
		return fmt.Errorf("latitude %f out of range", *l.GeoLat)
	}
	if l.GeoLng != nil && (*l.GeoLng < -180 || *l.GeoLng > 180) {
		return fmt.Errorf("longitude %f out of range", *l.GeoLng)
	}
	for _, v := range []*float64{l.SurfaceTotal, l.SurfaceCovered} {
		if v != nil && *v < 0 {
			return fmt.Errorf("negative surface %f", *v)
		}
	}
	for _, v := range []*int{l.Rooms, l.Bedrooms, l.Bathrooms} {
		if v != nil && *v < 0 {
			return fmt.Errorf("negative room count %d", *v)
		}
	}
	switch l.Status {
	case StatusActive, StatusDelisted, StatusPaused, StatusSold, StatusRented:
	default:
		return fmt.Errorf("invalid status %q", l.Status)
	}
	return nil
}

// Run statuses for IngestionRun.
const (
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// IngestionRun records one ingestion pass for a platform.
type IngestionRun struct {
	Platform          Platform  `bson:"platform" json:"platform"`
	Status            string    `bson:"status" json:"status"`
	ListingsProcessed int       `bson:"listings_processed" json:"listings_processed"`
	ListingsNew       int       `bson:"listings_new" json:"listings_new"`
	ListingsUpdated   int       `bson:"listings_updated" json:"listings_updated"`
	Errors            int       `bson:"errors" json:"errors"`
	Timestamp         time.Time `bson:"timestamp" json:"timestamp"`
}

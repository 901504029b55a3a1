package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCapurro/PropScraper/internal/models"
)

func basePosting() *zonapropPosting {
	p := &zonapropPosting{
		PostingID: "98765",
		URL:       "/propiedades/98765.html",
		Title:     "Depto 3 ambientes con balcón",
	}
	p.PriceOperationTypes = []zonapropOperationType{{
		Prices: []zonapropPrice{{Amount: 150000, Currency: "USD"}},
	}}
	p.PriceOperationTypes[0].OperationType.Name = "Venta"
	return p
}

func normalizeBase(t *testing.T, p *zonapropPosting) *models.UnifiedListing {
	t.Helper()
	l, err := normalizeZonapropPosting(p, "https://www.zonaprop.com.ar", time.Now().UTC())
	require.NoError(t, err)
	return l
}

func TestNormalizeIdentityCandidates(t *testing.T) {
	p := basePosting()
	p.PostingID = ""
	p.ID = "11111"
	assert.Equal(t, "11111", normalizeBase(t, p).PlatformListingID)

	p = basePosting()
	p.PostingID = ""
	p.ID = ""
	_, err := normalizeZonapropPosting(p, "https://www.zonaprop.com.ar", time.Now().UTC())
	assert.ErrorIs(t, err, ErrMissingListingID)
}

func TestNormalizeURL(t *testing.T) {
	p := basePosting()
	assert.Equal(t, "https://www.zonaprop.com.ar/propiedades/98765.html", normalizeBase(t, p).ListingURL)

	p = basePosting()
	p.URL = "https://cdn.example.com/already-absolute.html"
	assert.Equal(t, "https://cdn.example.com/already-absolute.html", normalizeBase(t, p).ListingURL)
}

func TestNormalizeOperationType(t *testing.T) {
	tests := []struct {
		name string
		want models.OperationType
	}{
		{"Venta", models.OperationSale},
		{"Alquiler", models.OperationRent},
		{"Alquiler temporario", models.OperationRent},
		{"", models.OperationSale},
	}
	for _, tt := range tests {
		p := basePosting()
		p.PriceOperationTypes[0].OperationType.Name = tt.name
		assert.Equal(t, tt.want, normalizeBase(t, p).OperationType, "operation name %q", tt.name)
	}

	// No operation data at all defaults to sale.
	p := basePosting()
	p.PriceOperationTypes = nil
	assert.Equal(t, models.OperationSale, normalizeBase(t, p).OperationType)
}

func TestNormalizePrice(t *testing.T) {
	p := basePosting()
	l := normalizeBase(t, p)
	require.NotNil(t, l.Price)
	assert.Equal(t, 150000.0, *l.Price)
	assert.Equal(t, models.CurrencyUSD, l.Currency)

	// First price entry wins.
	p = basePosting()
	p.PriceOperationTypes[0].Prices = []zonapropPrice{
		{Amount: 120000, Currency: "ARS"},
		{Amount: 99, Currency: "USD"},
	}
	l = normalizeBase(t, p)
	assert.Equal(t, 120000.0, *l.Price)
	assert.Equal(t, models.CurrencyARS, l.Currency)

	// Absent prices default to 0.
	p = basePosting()
	p.PriceOperationTypes[0].Prices = nil
	assert.Equal(t, 0.0, *normalizeBase(t, p).Price)

	// Negative prices are clipped, never propagated.
	p = basePosting()
	p.PriceOperationTypes[0].Prices = []zonapropPrice{{Amount: -500, Currency: "USD"}}
	assert.Equal(t, 0.0, *normalizeBase(t, p).Price)

	// Unknown currency codes fall back to the platform default.
	p = basePosting()
	p.PriceOperationTypes[0].Prices = []zonapropPrice{{Amount: 100, Currency: "GBP"}}
	assert.Equal(t, models.CurrencyUSD, normalizeBase(t, p).Currency)
}

func TestNormalizeFeatures(t *testing.T) {
	p := basePosting()
	p.MainFeatures = map[string]zonapropFeature{
		featSurfaceTotal:   {Value: "72.5"},
		featSurfaceCovered: {Value: "65"},
		featRooms:          {Value: "3.7"},
		featBedrooms:       {Value: "two"},
		featBathrooms:      {Value: "-1"},
	}
	l := normalizeBase(t, p)

	require.NotNil(t, l.SurfaceTotal)
	assert.Equal(t, 72.5, *l.SurfaceTotal)
	require.NotNil(t, l.SurfaceCovered)
	assert.Equal(t, 65.0, *l.SurfaceCovered)
	require.NotNil(t, l.Rooms)
	assert.Equal(t, 3, *l.Rooms, "room counts are floored to integers")
	assert.Nil(t, l.Bedrooms, "non-numeric values are absent")
	assert.Nil(t, l.Bathrooms, "negative values are absent")
}

func TestNormalizeCoordinates(t *testing.T) {
	lat, lng := -34.6037, -58.3816

	p := basePosting()
	p.PostingLocation.PostingGeolocation.Geolocation.Latitude = &lat
	p.PostingLocation.PostingGeolocation.Geolocation.Longitude = &lng
	l := normalizeBase(t, p)
	assert.Equal(t, lat, *l.GeoLat)
	assert.Equal(t, lng, *l.GeoLng)

	// A lone coordinate nulls both.
	p = basePosting()
	p.PostingLocation.PostingGeolocation.Geolocation.Latitude = &lat
	l = normalizeBase(t, p)
	assert.Nil(t, l.GeoLat)
	assert.Nil(t, l.GeoLng)
}

func TestNormalizeImages(t *testing.T) {
	p := basePosting()
	p.VisiblePictures.Pictures = []zonapropPicture{
		{URL730x532: "https://img/1-big.jpg", URL360x266: "https://img/1-small.jpg"},
		{URL360x266: "https://img/2-small.jpg"},
		{},
		{URL730x532: "https://img/3-big.jpg"},
	}
	l := normalizeBase(t, p)

	assert.Equal(t, []string{
		"https://img/1-big.jpg",
		"https://img/2-small.jpg",
		"https://img/3-big.jpg",
	}, l.Images, "best resolution per picture, source order preserved")
}

func TestNormalizeExpenses(t *testing.T) {
	amount := 45000.0
	p := basePosting()
	p.Expenses = &zonapropExpenses{Amount: &amount, Currency: "ARS"}
	l := normalizeBase(t, p)

	require.NotNil(t, l.Expenses)
	assert.Equal(t, amount, *l.Expenses)
	require.NotNil(t, l.ExpensesCurrency)
	assert.Equal(t, models.CurrencyARS, *l.ExpensesCurrency)

	zero := 0.0
	p = basePosting()
	p.Expenses = &zonapropExpenses{Amount: &zero}
	assert.Nil(t, normalizeBase(t, p).Expenses)
}

func TestNormalizeTimestamps(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	p := basePosting()
	p.ModifiedDate = "2026-01-20T11:49:39-0300"
	l, err := normalizeZonapropPosting(p, "https://www.zonaprop.com.ar", now)
	require.NoError(t, err)
	require.NotNil(t, l.SourceUpdatedAt)
	assert.Equal(t, 2026, l.SourceUpdatedAt.Year())
	assert.Equal(t, now, *l.SourceCreatedAt)

	// Malformed timestamps are dropped, not fatal.
	p = basePosting()
	p.ModifiedDate = "last tuesday"
	l, err = normalizeZonapropPosting(p, "https://www.zonaprop.com.ar", now)
	require.NoError(t, err)
	assert.Nil(t, l.SourceUpdatedAt)
}

func TestNormalizePropertyTypeAndPublisher(t *testing.T) {
	p := basePosting()
	p.RealEstateType = &zonapropRealEstateType{Name: "Departamento"}
	p.Publisher = &zonapropPublisher{Name: "Inmobiliaria Centro"}
	l := normalizeBase(t, p)

	assert.Equal(t, "departamento", l.PropertyType, "property type is lower-cased")
	require.NotNil(t, l.AgentPublisher)
	assert.Equal(t, "Inmobiliaria Centro", *l.AgentPublisher)

	p = basePosting()
	assert.Equal(t, "unknown", normalizeBase(t, p).PropertyType)
}

func TestNormalizeDescriptionFallback(t *testing.T) {
	p := basePosting()
	p.Description = "raw description"
	p.DescriptionNormalized = "normalized description"
	l := normalizeBase(t, p)
	require.NotNil(t, l.Description)
	assert.Equal(t, "normalized description", *l.Description)

	p = basePosting()
	p.Description = "raw description"
	l = normalizeBase(t, p)
	assert.Equal(t, "raw description", *l.Description)
}

func TestNormalizedListingPassesValidation(t *testing.T) {
	l := normalizeBase(t, basePosting())
	assert.NoError(t, l.Validate())
	assert.Equal(t, models.StatusActive, l.Status)
}

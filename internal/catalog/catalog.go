// Package catalog holds the static table of geographic zones and transaction
// types the scraper knows how to query, along with the provider-specific
// codes used to build upstream search requests.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ZoneConfig describes one geographic zone and its provider codes.
type ZoneConfig struct {
	Key          string `yaml:"-"`
	DisplayName  string `yaml:"display_name"`
	Description  string `yaml:"description"`
	ProvinceCode string `yaml:"province_code"` // zonaprop province filter
	ZoneCode     string `yaml:"zone_code"`     // zonaprop sub-zone filter, usually empty
	MeliStateID  string `yaml:"meli_state_id"` // mercadolibre state filter
}

// OperationConfig describes one transaction type and its provider codes.
type OperationConfig struct {
	Key             string `yaml:"-"`
	DisplayName     string `yaml:"display_name"`
	Code            string `yaml:"code"`              // zonaprop tipoDeOperacion
	MeliOperationID string `yaml:"meli_operation_id"` // mercadolibre OPERATION filter value
}

// Catalog is the read-only zone/operation table, loaded once at startup.
type Catalog struct {
	zones      map[string]ZoneConfig
	operations map[string]OperationConfig
}

// Default returns the built-in Argentine zone and operation catalog.
func Default() *Catalog {
	return &Catalog{
		zones: map[string]ZoneConfig{
			"capital_federal": {
				Key:          "capital_federal",
				DisplayName:  "Capital Federal",
				Description:  "Ciudad Autónoma de Buenos Aires",
				ProvinceCode: "6",
				MeliStateID:  "TUxBUENBUGw3MjU1",
			},
			"zona_norte_gba": {
				Key:          "zona_norte_gba",
				DisplayName:  "Zona Norte GBA",
				Description:  "Zona Norte del Gran Buenos Aires",
				ProvinceCode: "990",
				MeliStateID:  "TUxBUEdSQWU4ZDkz",
			},
			"santa_fe": {
				Key:          "santa_fe",
				DisplayName:  "Santa Fe",
				Description:  "Provincia de Santa Fe",
				ProvinceCode: "25",
				MeliStateID:  "TUxBUFNBTmWzYjFl",
			},
			"cordoba": {
				Key:          "cordoba",
				DisplayName:  "Córdoba",
				Description:  "Provincia de Córdoba",
				ProvinceCode: "7",
				MeliStateID:  "TUxBUENPUmFkZGIw",
			},
			"mendoza": {
				Key:          "mendoza",
				DisplayName:  "Mendoza",
				Description:  "Provincia de Mendoza",
				ProvinceCode: "17",
				MeliStateID:  "TUxBUE1FTmEzNWVm",
			},
			"entre_rios": {
				Key:          "entre_rios",
				DisplayName:  "Entre Ríos",
				Description:  "Provincia de Entre Ríos",
				ProvinceCode: "12",
				MeliStateID:  "TUxBUEVOVHMzNzc1",
			},
		},
		operations: map[string]OperationConfig{
			"sale": {
				Key:             "sale",
				DisplayName:     "Venta",
				Code:            "1",
				MeliOperationID: "242075",
			},
			"rent": {
				Key:             "rent",
				DisplayName:     "Alquiler",
				Code:            "2",
				MeliOperationID: "242073",
			},
		},
	}
}

// Zone looks up a zone by key.
func (c *Catalog) Zone(key string) (ZoneConfig, bool) {
	z, ok := c.zones[key]
	return z, ok
}

// Operation looks up an operation type by key.
func (c *Catalog) Operation(key string) (OperationConfig, bool) {
	op, ok := c.operations[key]
	return op, ok
}

// ZoneKeys returns all zone keys in stable order, for "scrape everything" runs.
func (c *Catalog) ZoneKeys() []string {
	keys := make([]string, 0, len(c.zones))
	for k := range c.zones {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OperationKeys returns all operation keys in stable order.
func (c *Catalog) OperationKeys() []string {
	keys := make([]string, 0, len(c.operations))
	for k := range c.operations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type overlayFile struct {
	Zones      map[string]ZoneConfig      `yaml:"zones"`
	Operations map[string]OperationConfig `yaml:"operations"`
}

// LoadOverlay merges zone/operation entries from a YAML file over the
// built-in table, so deployments can add zones without a rebuild. Entries
// with an existing key replace the built-in entry.
func (c *Catalog) LoadOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog overlay: read %s: %w", path, err)
	}

	var overlay overlayFile
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("catalog overlay: parse %s: %w", path, err)
	}

	for key, zone := range overlay.Zones {
		zone.Key = key
		c.zones[key] = zone
	}
	for key, op := range overlay.Operations {
		op.Key = key
		c.operations[key] = op
	}
	return nil
}

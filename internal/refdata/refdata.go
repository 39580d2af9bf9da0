// Package refdata holds the static region and property-type tables shown by
// the wizard. Tables are loaded once from embedded YAML and never mutated.
package refdata

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var embeddedCatalog []byte

// Region describes one selectable area and its market averages.
type Region struct {
	Key           string  `yaml:"key" json:"key"`
	Label         string  `yaml:"label" json:"label"`
	LabelEN       string  `yaml:"label_en" json:"labelEn,omitempty"`
	Description   string  `yaml:"description" json:"description"`
	DescriptionEN string  `yaml:"description_en" json:"descriptionEn,omitempty"`
	OccupancyRate float64 `yaml:"occupancy_rate" json:"occupancyRate"`
	NightlyPrice  int64   `yaml:"nightly_price" json:"nightlyPrice"`
}

// LocalizedLabel returns the label for the given locale, falling back to Japanese.
func (r Region) LocalizedLabel(locale string) string {
	if strings.HasPrefix(locale, "en") && r.LabelEN != "" {
		return r.LabelEN
	}
	return r.Label
}

// LocalizedDescription returns the description for the given locale, falling back to Japanese.
func (r Region) LocalizedDescription(locale string) string {
	if strings.HasPrefix(locale, "en") && r.DescriptionEN != "" {
		return r.DescriptionEN
	}
	return r.Description
}

// OccupancyPercent renders the occupancy ratio as a whole percentage.
func (r Region) OccupancyPercent() int {
	return int(r.OccupancyRate*100 + 0.5)
}

// PropertyType describes one floor plan and its cost factors.
type PropertyType struct {
	Key                   string `yaml:"key" json:"key"`
	Label                 string `yaml:"label" json:"label"`
	LabelEN               string `yaml:"label_en" json:"labelEn,omitempty"`
	MaxOccupancy          int    `yaml:"max_occupancy" json:"maxOccupancy"`
	Icon                  string `yaml:"icon" json:"icon"`
	InitialCostMultiplier int64  `yaml:"initial_cost_multiplier" json:"initialCostMultiplier"`
	MonthlyCleaningFee    int64  `yaml:"monthly_cleaning_fee" json:"monthlyCleaningFee"`
	FurnitureCost         int64  `yaml:"furniture_cost" json:"furnitureCost"`
}

// LocalizedLabel returns the label for the given locale, falling back to the canonical label.
func (p PropertyType) LocalizedLabel(locale string) string {
	if strings.HasPrefix(locale, "en") && p.LabelEN != "" {
		return p.LabelEN
	}
	return p.Label
}

// Catalog is the read-only pair of reference tables.
type Catalog struct {
	regions       []Region
	propertyTypes []PropertyType
	regionIdx     map[string]int
	propertyIdx   map[string]int
}

type catalogDocument struct {
	Regions       []Region       `yaml:"regions"`
	PropertyTypes []PropertyType `yaml:"property_types"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog parsed from the embedded tables.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embeddedCatalog)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("refdata: decode catalog: %w", err)
	}
	c := &Catalog{
		regions:       doc.Regions,
		propertyTypes: doc.PropertyTypes,
		regionIdx:     make(map[string]int, len(doc.Regions)),
		propertyIdx:   make(map[string]int, len(doc.PropertyTypes)),
	}
	for i, r := range c.regions {
		if _, dup := c.regionIdx[r.Key]; !dup {
			c.regionIdx[r.Key] = i
		}
	}
	for i, p := range c.propertyTypes {
		if _, dup := c.propertyIdx[p.Key]; !dup {
			c.propertyIdx[p.Key] = i
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks table integrity: non-empty tables, unique non-empty keys,
// ratios within [0,1] and positive cost factors.
func (c *Catalog) Validate() error {
	var problems []string
	if len(c.regions) == 0 {
		problems = append(problems, "no regions")
	}
	if len(c.propertyTypes) == 0 {
		problems = append(problems, "no property types")
	}
	seen := map[string]bool{}
	for i, r := range c.regions {
		switch {
		case strings.TrimSpace(r.Key) == "":
			problems = append(problems, fmt.Sprintf("regions[%d]: empty key", i))
		case seen[r.Key]:
			problems = append(problems, fmt.Sprintf("regions[%d]: duplicate key %q", i, r.Key))
		}
		seen[r.Key] = true
		if r.OccupancyRate < 0 || r.OccupancyRate > 1 {
			problems = append(problems, fmt.Sprintf("regions[%d]: occupancy out of range", i))
		}
		if r.NightlyPrice <= 0 {
			problems = append(problems, fmt.Sprintf("regions[%d]: nightly price must be positive", i))
		}
	}
	seen = map[string]bool{}
	for i, p := range c.propertyTypes {
		switch {
		case strings.TrimSpace(p.Key) == "":
			problems = append(problems, fmt.Sprintf("property_types[%d]: empty key", i))
		case seen[p.Key]:
			problems = append(problems, fmt.Sprintf("property_types[%d]: duplicate key %q", i, p.Key))
		}
		seen[p.Key] = true
		if p.InitialCostMultiplier <= 0 {
			problems = append(problems, fmt.Sprintf("property_types[%d]: multiplier must be positive", i))
		}
		if p.MaxOccupancy <= 0 {
			problems = append(problems, fmt.Sprintf("property_types[%d]: max occupancy must be positive", i))
		}
		if p.MonthlyCleaningFee < 0 || p.FurnitureCost < 0 {
			problems = append(problems, fmt.Sprintf("property_types[%d]: negative cost", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("refdata: invalid catalog: %w", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// Regions returns the regions in display order. The slice is a copy.
func (c *Catalog) Regions() []Region {
	out := make([]Region, len(c.regions))
	copy(out, c.regions)
	return out
}

// PropertyTypes returns the property types in display order. The slice is a copy.
func (c *Catalog) PropertyTypes() []PropertyType {
	out := make([]PropertyType, len(c.propertyTypes))
	copy(out, c.propertyTypes)
	return out
}

// Region looks up a region by key.
func (c *Catalog) Region(key string) (Region, bool) {
	i, ok := c.regionIdx[key]
	if !ok {
		return Region{}, false
	}
	return c.regions[i], true
}

// PropertyType looks up a property type by key.
func (c *Catalog) PropertyType(key string) (PropertyType, bool) {
	i, ok := c.propertyIdx[key]
	if !ok {
		return PropertyType{}, false
	}
	return c.propertyTypes[i], true
}

// HasRegion reports whether key names a known region.
func (c *Catalog) HasRegion(key string) bool {
	_, ok := c.regionIdx[key]
	return ok
}

// HasPropertyType reports whether key names a known property type.
func (c *Catalog) HasPropertyType(key string) bool {
	_, ok := c.propertyIdx[key]
	return ok
}

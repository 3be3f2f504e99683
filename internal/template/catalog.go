// Package template renders the category-specific generation instruction sent
// to the text oracle. Template text lives in a YAML catalog, not in code.
package template

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/briefsmith/internal/classify"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// DefaultKey names the template used for categories without their own entry.
const DefaultKey = "default"

// Placeholders lists every token a template may reference.
var Placeholders = []string{
	"product_name",
	"product_id",
	"category",
	"positioning",
	"use_case",
	"aesthetic",
	"requirements",
	"price_range",
	"open_marker",
	"close_marker",
}

// placeholderRe also matches near-misses such as {Product_Name} or
// {product-name} so Validate can reject them.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_-]+)\}`)

// Catalog is the parsed template file.
type Catalog struct {
	DefaultPrice string                       `yaml:"default_price"`
	Prices       map[string]map[string]string `yaml:"prices"`
	Templates    map[string]string            `yaml:"templates"`
}

// LoadEmbedded parses the catalog compiled into the binary.
func LoadEmbedded() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// LoadFile parses a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Load returns the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return LoadEmbedded()
	}
	return LoadFile(path)
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that a default template and price exist and that no
// template references an unknown placeholder.
func (c *Catalog) Validate() error {
	if c.Templates[DefaultKey] == "" {
		return fmt.Errorf("catalog: missing %q template", DefaultKey)
	}
	if c.DefaultPrice == "" {
		return fmt.Errorf("catalog: missing default_price")
	}
	for key, tpl := range c.Templates {
		if key != DefaultKey && !classify.Category(key).Valid() {
			return fmt.Errorf("catalog: template for unknown category %q", key)
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
			if !slices.Contains(Placeholders, m[1]) {
				return fmt.Errorf("catalog: template %q references unknown placeholder {%s}", key, m[1])
			}
		}
	}
	for pos := range c.Prices {
		if !classify.Positioning(pos).Valid() {
			return fmt.Errorf("catalog: prices for unknown positioning %q", pos)
		}
	}
	return nil
}

// PriceRange returns the advisory retail band for a positioning/category
// pair, falling back to DefaultPrice.
func (c *Catalog) PriceRange(pos classify.Positioning, cat classify.Category) string {
	if byCat, ok := c.Prices[string(pos)]; ok {
		if r, ok := byCat[string(cat)]; ok && r != "" {
			return r
		}
	}
	return c.DefaultPrice
}

var priceRangeRe = regexp.MustCompile(`^\$?\s*(\d+(?:\.\d+)?)\s*-\s*\$?\s*(\d+(?:\.\d+)?)$`)

// ParsePriceRange parses a "$lo-$hi" band.
func ParsePriceRange(s string) (lo, hi float64, ok bool) {
	m := priceRangeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseFloat(m[1], 64)
	hi, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

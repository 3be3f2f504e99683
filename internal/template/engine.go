package template

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/classify"
)

// NoRequirements is substituted when the user gave no extra requirements.
const NoRequirements = "None specified."

// Request carries the inputs of one generation instruction.
type Request struct {
	Category     classify.Category
	Positioning  classify.Positioning
	ProductName  string
	UseCase      string
	Aesthetic    string
	Requirements string
}

// Prompt is a rendered instruction.
type Prompt struct {
	Text        string
	Category    classify.Category
	Positioning classify.Positioning
	PriceRange  string
	// UsedDefault is set when the category had no template of its own.
	UsedDefault bool
}

type Engine struct {
	catalog *Catalog
	logger  *slog.Logger
}

func NewEngine(catalog *Catalog, logger *slog.Logger) *Engine {
	return &Engine{catalog: catalog, logger: logger}
}

// Build selects the category template and substitutes every placeholder in
// a single pass. Values are never rescanned, so user text containing
// "{product_id}" is emitted literally.
func (e *Engine) Build(req Request) (*Prompt, error) {
	if !req.Category.Valid() {
		return nil, fmt.Errorf("build prompt: unknown category %q", req.Category)
	}
	if !req.Positioning.Valid() {
		return nil, fmt.Errorf("build prompt: unknown positioning %q", req.Positioning)
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return nil, fmt.Errorf("build prompt: product name is required")
	}

	tpl, ok := e.catalog.Templates[string(req.Category)]
	usedDefault := false
	if !ok || tpl == "" {
		tpl = e.catalog.Templates[DefaultKey]
		usedDefault = true
		e.logger.Debug("no category template, using default", "category", req.Category)
	}

	requirements := strings.TrimSpace(req.Requirements)
	if requirements == "" {
		requirements = NoRequirements
	}
	priceRange := e.catalog.PriceRange(req.Positioning, req.Category)

	values := map[string]string{
		"product_name": strings.TrimSpace(req.ProductName),
		"product_id":   brief.Slug(req.ProductName),
		"category":     string(req.Category),
		"positioning":  string(req.Positioning),
		"use_case":     strings.TrimSpace(req.UseCase),
		"aesthetic":    strings.TrimSpace(req.Aesthetic),
		"requirements": requirements,
		"price_range":  priceRange,
		"open_marker":  brief.OpenMarker,
		"close_marker": brief.CloseMarker,
	}

	text, err := substitute(tpl, values)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	return &Prompt{
		Text:        strings.TrimSpace(text),
		Category:    req.Category,
		Positioning: req.Positioning,
		PriceRange:  priceRange,
		UsedDefault: usedDefault,
	}, nil
}

func substitute(tpl string, values map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := values[name]
		if !ok {
			if missing == "" {
				missing = token
			}
			return token
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("unresolved placeholder %s", missing)
	}
	return out, nil
}

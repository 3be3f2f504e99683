package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
	"github.com/MikeSquared-Agency/briefsmith/internal/classify"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

type priceCheck struct {
	category    classify.Category
	positioning classify.Positioning
	priceRange  string
	outOfBand   bool
	warning     string
	usedDefault bool
}

// normalise fills identity and tag fields the oracle left empty or invalid
// and checks the target price against the advisory band. Out-of-band prices
// are flagged, never changed.
func (p *Processor) normalise(b *brief.Brief, answers map[string]string, gen *template.Prompt) priceCheck {
	if strings.TrimSpace(b.ProductName) == "" {
		b.ProductName = answers[conversation.QuestionProductName]
	}
	if strings.TrimSpace(b.ProductID) == "" {
		b.ProductID = brief.Slug(b.ProductName)
	}

	if !classify.Category(b.Category).Valid() {
		cat := classify.Product(b.ProductName, b.IntendedUse)
		if gen != nil {
			cat = gen.Category
		}
		b.Category = string(cat)
	}
	if !classify.Positioning(b.Positioning).Valid() {
		pos := classify.DefaultPositioning
		if gen != nil {
			pos = gen.Positioning
		} else if aesthetic := answers[conversation.QuestionAesthetic]; aesthetic != "" {
			pos = classify.InferPositioning(aesthetic)
		}
		b.Positioning = string(pos)
	}

	check := priceCheck{
		category:    classify.Category(b.Category),
		positioning: classify.Positioning(b.Positioning),
	}
	if gen != nil {
		check.usedDefault = gen.UsedDefault
	}
	check.priceRange = p.catalog.PriceRange(check.positioning, check.category)
	lo, hi, ok := template.ParsePriceRange(check.priceRange)
	if ok && b.TargetPriceUSD > 0 && (b.TargetPriceUSD < lo || b.TargetPriceUSD > hi) {
		check.outOfBand = true
		check.warning = fmt.Sprintf("Target price $%.2f is outside the suggested %s range for %s %s products.",
			b.TargetPriceUSD, check.priceRange, check.positioning, check.category)
	}
	return check
}

func marshalBrief(b brief.Brief) (json.RawMessage, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}
	return data, nil
}

// Package classify maps free-text product descriptions to a closed set of
// category and positioning tags using ordered keyword tables.
package classify

import (
	"regexp"
	"strings"
)

type Category string

const (
	CategorySupplement Category = "supplement"
	CategorySkincare   Category = "skincare"
	CategoryBeauty     Category = "beauty"
	CategoryFood       Category = "food"
	CategoryWearable   Category = "wearable"
	CategoryClothing   Category = "clothing"
	CategoryTools      Category = "tools"
	CategoryWellness   Category = "wellness"
)

// DefaultCategory is returned when no keyword group matches.
const DefaultCategory = CategoryWellness

// Categories lists every tag the classifier can return.
var Categories = []Category{
	CategorySupplement,
	CategorySkincare,
	CategoryBeauty,
	CategoryFood,
	CategoryWearable,
	CategoryClothing,
	CategoryTools,
	CategoryWellness,
}

// Valid reports whether c is a member of the fixed tag set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Positioning string

const (
	PositioningBudget   Positioning = "budget"
	PositioningMidRange Positioning = "mid-range"
	PositioningPremium  Positioning = "premium"
)

// DefaultPositioning is returned when no keyword group matches.
const DefaultPositioning = PositioningMidRange

// Positionings lists the three market tiers.
var Positionings = []Positioning{PositioningBudget, PositioningMidRange, PositioningPremium}

// Valid reports whether p is one of the three tiers.
func (p Positioning) Valid() bool {
	return p == PositioningBudget || p == PositioningMidRange || p == PositioningPremium
}

type rule[T any] struct {
	tag     T
	pattern *regexp.Regexp
}

// words compiles a case-insensitive whole-word alternation.
func words(terms ...string) *regexp.Regexp {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// categoryRules is evaluated top to bottom; the first match wins.
var categoryRules = []rule[Category]{
	{CategorySupplement, words(
		"supplement", "supplements", "vitamin", "vitamins", "multivitamin",
		"gummy", "gummies", "capsule", "capsules", "tablet", "tablets",
		"softgel", "softgels", "probiotic", "probiotics", "melatonin",
		"collagen", "protein powder", "electrolyte", "electrolytes", "adaptogen", "adaptogens",
	)},
	{CategorySkincare, words(
		"skincare", "skin care", "serum", "serums", "moisturizer", "moisturiser",
		"cleanser", "toner", "sunscreen", "spf", "retinol", "face cream",
		"eye cream", "face mask", "lotion", "balm",
	)},
	{CategoryBeauty, words(
		"makeup", "make-up", "lipstick", "lip gloss", "mascara", "eyeliner",
		"foundation", "blush", "cosmetic", "cosmetics", "nail polish",
		"perfume", "fragrance", "shampoo", "conditioner", "hair",
	)},
	{CategoryFood, words(
		"food", "snack", "snacks", "bar", "bars", "drink", "beverage", "tea",
		"coffee", "chocolate", "granola", "cereal", "sauce", "spice",
		"cookie", "cookies", "candy", "juice", "kombucha",
	)},
	{CategoryWearable, words(
		"wearable", "smartwatch", "watch", "tracker", "fitness band",
		"ring", "bracelet", "earbuds", "headphones", "sensor",
	)},
	{CategoryClothing, words(
		"clothing", "apparel", "shirt", "t-shirt", "hoodie", "jacket",
		"leggings", "pants", "dress", "socks", "hat", "cap", "shoes",
		"sneakers", "garment",
	)},
	{CategoryTools, words(
		"tool", "tools", "kit", "gadget", "device", "knife", "wrench",
		"screwdriver", "organizer", "organiser", "utensil", "utensils",
		"bottle opener", "multitool",
	)},
	{CategoryWellness, words(
		"wellness", "meditation", "aromatherapy", "diffuser", "yoga",
		"massage", "candle", "sleep mask", "bath salts",
	)},
}

// positioningRules checks premium before budget so that inputs carrying both
// ("affordable luxury") resolve to premium.
var positioningRules = []rule[Positioning]{
	{PositioningPremium, words(
		"luxury", "luxurious", "premium", "high-end", "high end", "elegant",
		"sophisticated", "exclusive", "artisan", "artisanal", "bespoke",
		"refined", "opulent", "designer", "prestige",
	)},
	{PositioningBudget, words(
		"affordable", "cheap", "budget", "inexpensive", "low-cost", "low cost",
		"economical", "value", "bargain", "basic", "no-frills",
	)},
}

// ClassifyCategory returns the first category whose keyword group matches text,
// or DefaultCategory.
func ClassifyCategory(text string) Category {
	return firstMatch(categoryRules, text, DefaultCategory)
}

// InferPositioning returns the market tier implied by an aesthetic
// description, or DefaultPositioning.
func InferPositioning(text string) Positioning {
	return firstMatch(positioningRules, text, DefaultPositioning)
}

// Product classifies a product from its description and use case.
func Product(description, useCase string) Category {
	return ClassifyCategory(description + " " + useCase)
}

func firstMatch[T any](rules []rule[T], text string, fallback T) T {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.tag
		}
	}
	return fallback
}

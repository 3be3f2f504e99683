// Package mockup renders product mockups for a brief through an image
// generation API and polls the store for finished artifacts.
package mockup

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MikeSquared-Agency/briefsmith/internal/brief"
)

const (
	DefaultSize    = "1024x1024"
	DefaultQuality = "standard"
	MaxVariants    = 4
)

// Sizes and qualities the images endpoint accepts across its models.
var (
	validSizes = []openai.ImageGenerateParamsSize{
		openai.ImageGenerateParamsSizeAuto,
		openai.ImageGenerateParamsSize256x256,
		openai.ImageGenerateParamsSize512x512,
		openai.ImageGenerateParamsSize1024x1024,
		openai.ImageGenerateParamsSize1536x1024,
		openai.ImageGenerateParamsSize1024x1536,
		openai.ImageGenerateParamsSize1792x1024,
		openai.ImageGenerateParamsSize1024x1792,
	}
	validQualities = []openai.ImageGenerateParamsQuality{
		openai.ImageGenerateParamsQualityAuto,
		openai.ImageGenerateParamsQualityStandard,
		openai.ImageGenerateParamsQualityHD,
		openai.ImageGenerateParamsQualityLow,
		openai.ImageGenerateParamsQualityMedium,
		openai.ImageGenerateParamsQualityHigh,
	}
)

// Request describes one image.
type Request struct {
	Prompt  string
	Size    string
	Quality string
}

// Image is a generated artifact. Exactly one of URL and B64JSON is set.
type Image struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// Generator is the image oracle.
type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator builds a Generator. Extra options are passed to the client,
// e.g. option.WithBaseURL in tests.
func NewGenerator(apiKey, model string, opts ...option.RequestOption) *Generator {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Generator{client: openai.NewClient(all...), model: model}
}

func (g *Generator) Model() string {
	return g.model
}

func (g *Generator) Generate(ctx context.Context, req Request) (*Image, error) {
	size := req.Size
	if size == "" {
		size = DefaultSize
	}
	quality := req.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(g.model),
		N:       openai.Int(1),
		Size:    openai.ImageGenerateParamsSize(size),
		Quality: openai.ImageGenerateParamsQuality(quality),
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("generate image: empty response")
	}
	d := resp.Data[0]
	if d.URL == "" && d.B64JSON == "" {
		return nil, fmt.Errorf("generate image: no url or data in response")
	}
	return &Image{URL: d.URL, B64JSON: d.B64JSON, RevisedPrompt: d.RevisedPrompt}, nil
}

var angles = []string{
	"three-quarter front view",
	"straight-on front view",
	"top-down flat lay",
	"lifestyle scene in use",
}

// PromptFor renders the image prompt for one variant of a brief.
func PromptFor(b brief.Brief, variant int) string {
	if variant < 0 {
		variant = 0
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Photorealistic product mockup of %q", b.ProductName)
	if b.FormFactor != "" {
		fmt.Fprintf(&sb, ", a %s", b.FormFactor)
	}
	if b.Category != "" {
		fmt.Fprintf(&sb, " (%s product", b.Category)
		if b.Positioning != "" {
			fmt.Fprintf(&sb, ", %s positioning", b.Positioning)
		}
		sb.WriteString(")")
	}
	sb.WriteString(". ")
	if desc := describe(b.Materials); desc != "" {
		fmt.Fprintf(&sb, "Materials: %s. ", desc)
	}
	if desc := describe(b.Finishes); desc != "" {
		fmt.Fprintf(&sb, "Finishes: %s. ", desc)
	}
	if b.ColorScheme.Base != "" {
		fmt.Fprintf(&sb, "Base colour %s", b.ColorScheme.Base)
		if len(b.ColorScheme.Accents) > 0 {
			fmt.Fprintf(&sb, " with accents %s", strings.Join(b.ColorScheme.Accents, ", "))
		}
		sb.WriteString(". ")
	}
	if variant < len(b.Variants) {
		fmt.Fprintf(&sb, "Variant: %s. ", b.Variants[variant])
	}
	fmt.Fprintf(&sb, "Shot as a %s on a seamless studio background, soft lighting, no text other than the product name.", angles[variant%len(angles)])
	return sb.String()
}

func describe(slots map[string]string) string {
	parts := make([]string, 0, len(slots))
	for _, k := range slices.Sorted(maps.Keys(slots)) {
		parts = append(parts, k+" "+slots[k])
	}
	return strings.Join(parts, "; ")
}

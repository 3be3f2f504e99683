package brief

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Sleep Gummies", "sleep-gummies"},
		{"  Glow   Serum 2.0 ", "glow-serum-2-0"},
		{"Café Crème!", "caf-cr-me"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "Slug(%q)", tt.in)
	}
}

func TestMarshalDownload_Stable(t *testing.T) {
	b := sampleBrief()

	first, err := MarshalDownload(b)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := MarshalDownload(b)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	out := string(first)
	assert.Contains(t, out, "\n  \"product_name\": \"Sleep Gummies\",\n")
	assert.Contains(t, out, "\"cap\": \"PP with induction seal\",\n    \"jar\"")
	assert.Equal(t, byte('\n'), first[len(first)-1])
}

func TestMarshalDownload_NoHTMLEscaping(t *testing.T) {
	b := Brief{ProductName: "Salt & Pepper <Mill>"}
	out, err := MarshalDownload(b)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Salt & Pepper <Mill>")
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "sleep-gummies-brief.json", DownloadName(Brief{ProductID: "sleep-gummies"}))
	assert.Equal(t, "trail-mix-brief.json", DownloadName(Brief{ProductName: "Trail Mix"}))
	assert.Equal(t, "product-brief.json", DownloadName(Brief{}))
}

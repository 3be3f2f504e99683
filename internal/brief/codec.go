package brief

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Slug derives a product id from a product name: lower case ASCII letters and
// digits separated by single hyphens.
func Slug(name string) string {
	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return sb.String()
}

// MarshalDownload renders the brief for download: two-space indentation,
// struct field order, sorted map keys, no HTML escaping, trailing newline.
// The output is byte-stable for a given brief.
func MarshalDownload(b Brief) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("encode brief: %w", err)
	}
	return buf.Bytes(), nil
}

// DownloadName is the file name offered for a brief download.
func DownloadName(b Brief) string {
	id := b.ProductID
	if id == "" {
		id = Slug(b.ProductName)
	}
	if id == "" {
		id = "product"
	}
	return id + "-brief.json"
}

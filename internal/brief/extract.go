package brief

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	OpenMarker  = "<BRIEF>"
	CloseMarker = "</BRIEF>"
)

// ErrNoBrief means the text carries no complete marker pair. The oracle may
// still be asking questions, so callers treat this as a normal outcome.
var ErrNoBrief = errors.New("no brief present")

// ParseError means a marker pair was found but the enclosed text is not JSON.
// Callers surface it to the user as retryable.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse brief: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extraction is the result of a successful Extract.
type Extraction struct {
	Brief Brief
	// Raw is the enclosed JSON exactly as the oracle wrote it.
	Raw json.RawMessage
	// Mismatches lists fields whose JSON type did not fit the Brief shape.
	// Those fields are left at their zero value.
	Mismatches []string
}

// Extract locates the first <BRIEF>...</BRIEF> pair in text and parses the
// enclosed payload. Surrounding prose and a markdown code fence inside the
// markers are tolerated.
func Extract(text string) (*Extraction, error) {
	payload, ok := locate(text)
	if !ok {
		return nil, ErrNoBrief
	}
	payload = stripFence(payload)

	if !json.Valid([]byte(payload)) {
		var v any
		err := json.Unmarshal([]byte(payload), &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, &ParseError{Payload: payload, Err: err}
	}

	ext := &Extraction{Raw: json.RawMessage(payload)}
	ext.Mismatches = decodeLenient([]byte(payload), &ext.Brief)
	return ext, nil
}

// Decode parses a bare JSON brief, such as one read back from storage,
// with the same leniency as Extract.
func Decode(raw []byte) (*Extraction, error) {
	if !json.Valid(raw) {
		return nil, &ParseError{Payload: string(raw), Err: errors.New("invalid JSON")}
	}
	ext := &Extraction{Raw: json.RawMessage(raw)}
	ext.Mismatches = decodeLenient(raw, &ext.Brief)
	return ext, nil
}

// Merge overlays the identity and tag fields of b onto raw. Every other key
// the oracle wrote is kept as written, including keys Brief has no field
// for and values whose type did not fit. Empty fields of b are not written.
func Merge(raw json.RawMessage, b Brief) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("merge brief: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	for key, val := range map[string]string{
		"product_name": b.ProductName,
		"product_id":   b.ProductID,
		"category":     b.Category,
		"positioning":  b.Positioning,
	} {
		if val == "" {
			continue
		}
		enc, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("merge brief: %w", err)
		}
		fields[key] = enc
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("merge brief: %w", err)
	}
	return data, nil
}

// Strip removes the first marker pair and its payload, leaving the prose.
func Strip(text string) string {
	start := strings.Index(text, OpenMarker)
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+len(OpenMarker):]
	end := strings.Index(rest, CloseMarker)
	if end < 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:start] + rest[end+len(CloseMarker):])
}

// Wrap encloses a brief in the markers.
func Wrap(b Brief) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal brief: %w", err)
	}
	return OpenMarker + string(data) + CloseMarker, nil
}

func locate(text string) (string, bool) {
	start := strings.Index(text, OpenMarker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(OpenMarker):]
	end := strings.Index(rest, CloseMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeLenient unmarshals into dst and reports type mismatches instead of
// failing. encoding/json keeps decoding past an UnmarshalTypeError, but only
// reports the first one, so fields are retried one at a time.
func decodeLenient(data []byte, dst *Brief) []string {
	err := json.Unmarshal(data, dst)
	if err == nil {
		return nil
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		// Not an object at all (array, string, number): nothing fits.
		*dst = Brief{}
		return []string{"$"}
	}

	*dst = Brief{}
	var mismatches []string
	for key, raw := range fields {
		single, _ := json.Marshal(map[string]json.RawMessage{key: raw})
		var one Brief
		if json.Unmarshal(single, &one) != nil {
			mismatches = append(mismatches, key)
			switch key {
			case "materials":
				dst.Materials = stringSlots(raw)
			case "finishes":
				dst.Finishes = stringSlots(raw)
			}
			continue
		}
		_ = json.Unmarshal(single, dst)
	}
	slices.Sort(mismatches)
	return mismatches
}

// stringSlots keeps the string-valued entries of a slot object whose other
// entries did not fit map[string]string.
func stringSlots(raw json.RawMessage) map[string]string {
	var slots map[string]json.RawMessage
	if json.Unmarshal(raw, &slots) != nil {
		return nil
	}
	out := make(map[string]string)
	for k, v := range slots {
		var s string
		if json.Unmarshal(v, &s) == nil {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

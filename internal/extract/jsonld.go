package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// candidate is one structured-data object asserting it is a product.
// A nil candidate is valid; all lookups on it return zero values, so the
// field extractors can run unconditionally and fall through to the next
// tier.
type candidate map[string]any

// findProductCandidate scans every JSON-LD block in document order and
// returns the first object whose @type contains "product". Malformed
// blocks are skipped silently and scanning continues.
func findProductCandidate(doc *goquery.Document) candidate {
	var found candidate
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		if c := productFrom(payload); c != nil {
			found = c
			return false
		}
		return true
	})
	return found
}

// productFrom walks a decoded JSON-LD payload, which may be a single
// object, an array of objects, or an object wrapping an @graph array.
func productFrom(payload any) candidate {
	switch v := payload.(type) {
	case map[string]any:
		if isProductType(v["@type"]) {
			return candidate(v)
		}
		if graph, ok := v["@graph"].([]any); ok {
			return productFrom(graph)
		}
	case []any:
		for _, item := range v {
			if c := productFrom(item); c != nil {
				return c
			}
		}
	}
	return nil
}

// isProductType accepts a singular type tag or any entry of an
// array-valued tag, matched case-insensitively.
func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), "product")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), "product") {
				return true
			}
		}
	}
	return false
}

// str returns the stringified value for a key, or "".
func (c candidate) str(key string) string {
	if c == nil {
		return ""
	}
	return stringify(c[key])
}

// list coerces the value for a key into a slice of non-empty strings.
func (c candidate) list(key string) []string {
	if c == nil {
		return nil
	}
	switch v := c[key].(type) {
	case []any:
		var out []string
		for _, item := range v {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := stringify(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

// firstOffer returns the first entry of the offers value, which may be a
// single object or an array.
func (c candidate) firstOffer() candidate {
	if c == nil {
		return nil
	}
	switch v := c["offers"].(type) {
	case map[string]any:
		return candidate(v)
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return candidate(m)
			}
		}
	}
	return nil
}

// stringify flattens a JSON value to text. Objects yield their name,
// @id or value member, covering the brand-as-object shape.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, key := range []string{"name", "@id", "value", "url"} {
			if s := stringify(t[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// Package extract maps fetched page content to canonical product fields.
// It is pure: no I/O, no clock, no globals. Each field follows its own
// precedence chain — structured data first, then social meta tags, then
// DOM heuristics — so a page missing one tier still yields the rest.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoTitle marks a hard parse failure: a page from which no title can
// be resolved by any tier produces no catalog row at all.
var ErrNoTitle = errors.New("no title resolved")

// DefaultBrand is recorded when neither structured data nor any fallback
// yields a brand.
const DefaultBrand = "unbranded"

// Title resolution tiers, recorded for the audit snapshot.
const (
	TierStructured = "structured"
	TierMeta       = "meta"
	TierDocument   = "document"
)

// Product holds the canonical fields extracted from one page.
type Product struct {
	Handle      string
	Title       string
	SKU         string
	Number      string
	Brand       string
	Series      []string
	Category    []string
	ReleaseDate string
	Price       string
	Currency    string
	// Images is ordered by discovery priority; the first entry is the
	// primary image.
	Images []string

	// Structured reports whether a JSON-LD product candidate was found,
	// and TitleTier which tier resolved the title.
	Structured bool
	TitleTier  string
}

// Extract parses HTML and assembles a Product. The only error condition
// is an unparseable document or an unresolvable title.
func Extract(html string, baseURL string) (Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Product{}, fmt.Errorf("parse document: %w", err)
	}
	base, _ := url.Parse(baseURL)

	cand := findProductCandidate(doc)

	var p Product
	p.Structured = cand != nil

	p.Title, p.TitleTier = resolveTitle(cand, doc)
	if p.Title == "" {
		return Product{}, fmt.Errorf("extract %s: %w", baseURL, ErrNoTitle)
	}

	p.SKU = firstNonEmpty(cand.str("sku"), cand.str("productID"))

	// The product number prefers the structured identifier list and falls
	// back to the SKU. A heuristic: identifiers are not guaranteed to be
	// the catalog number the vendor prints on the box.
	if ids := cand.list("identifier"); len(ids) > 0 {
		p.Number = ids[0]
	} else {
		p.Number = p.SKU
	}

	p.Brand = cand.str("brand")
	if p.Brand == "" {
		p.Brand = DefaultBrand
	}

	p.Series = dedupe(firstNonEmptyList(cand.list("isPartOf"), cand.list("isRelatedTo"), cand.list("brand")))
	p.Category = dedupe(cand.list("category"))

	p.ReleaseDate = firstNonEmpty(cand.str("releaseDate"), cand.str("datePublished"))

	if offer := cand.firstOffer(); offer != nil {
		p.Price = offer.str("price")
		p.Currency = strings.ToUpper(offer.str("priceCurrency"))
	}

	p.Images = collectImages(cand, doc, base)

	p.Handle = deriveHandle(p.Title, p.Number, p.Brand)

	return p, nil
}

func resolveTitle(cand candidate, doc *goquery.Document) (string, string) {
	if t := cand.str("name"); t != "" {
		return t, TierStructured
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t, TierMeta
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t, TierDocument
	}
	return "", ""
}

// collectImages unions image sources in fixed priority order: structured
// image fields, social meta tags, then every img tag's primary or
// lazy-load source. Vector and animated-icon assets are dropped.
func collectImages(cand candidate, doc *goquery.Document, base *url.URL) []string {
	var raw []string
	raw = append(raw, cand.list("image")...)

	for _, sel := range []string{
		`meta[property="og:image"]`,
		`meta[property="og:image:secure_url"]`,
		`meta[name="twitter:image"]`,
	} {
		if v := metaContent(doc, sel); v != "" {
			raw = append(raw, v)
		}
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			src, _ = s.Attr("data-src")
		}
		if strings.TrimSpace(src) != "" {
			raw = append(raw, strings.TrimSpace(src))
		}
	})

	var out []string
	for _, r := range raw {
		abs := resolveRef(base, r)
		if abs == "" || !keepImage(abs) {
			continue
		}
		out = append(out, abs)
	}
	return dedupe(out)
}

// keepImage filters out sprites, icons and vector/animated assets that
// show up in galleries but are never product photography.
func keepImage(u string) bool {
	lower := strings.ToLower(u)
	if strings.Contains(lower, "sprite") || strings.Contains(lower, "icon") {
		return false
	}
	parsed, err := url.Parse(lower)
	if err != nil {
		return false
	}
	switch path.Ext(parsed.Path) {
	case ".svg", ".gif":
		return false
	}
	return true
}

func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func deriveHandle(title, number, brand string) string {
	if h := Slugify(title + " " + number); h != "" {
		return h
	}
	if h := Slugify(title); h != "" {
		return h
	}
	return Slugify(brand + " " + number)
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

package fallback

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rental-ingest/models"
	"rental-ingest/utils"
)

const (
	fromJSONLD = "jsonld"
	fromDOM    = "dom"
)

var listingTypes = map[string]bool{
	"apartment":         true,
	"realestatelisting": true,
	"residence":         true,
	"product":           true,
}

var (
	priceRe = regexp.MustCompile(`\$\s?[\d,]+(?:\.\d{2})?(?:\s*(?:-|–|to)\s*\$?\s?[\d,]+(?:\.\d{2})?)?`)
	bedsRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:bd|beds?|bedrooms?)\b`)
	bathsRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:ba|baths?|bathrooms?)\b`)
	sqftRe  = regexp.MustCompile(`(?i)([\d,]{3,})\s*(?:sq\.?\s*ft\.?|sqft|square\s+feet)`)
	phoneRe = regexp.MustCompile(`\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// ParseDetail extracts the listings of a detail page. Structured schema.org
// data wins; the DOM heuristics only run when the page has none. Every
// record carries the page URL when it names none itself.
func ParseDetail(doc *goquery.Document, pageURL string) []models.RawListing {
	if recs := jsonLDListings(doc, pageURL); len(recs) > 0 {
		return recs
	}
	if rec := domListing(doc, pageURL); rec != nil {
		return []models.RawListing{rec}
	}
	return nil
}

func jsonLDListings(doc *goquery.Document, pageURL string) []models.RawListing {
	var out []models.RawListing
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		collectTyped(v, func(obj map[string]any) {
			rec := models.RawListing{}
			for k, val := range obj {
				rec[k] = val
			}
			rec["_extractedFrom"] = fromJSONLD
			if u, ok := rec["url"].(string); ok && strings.TrimSpace(u) != "" {
				rec["url"] = utils.ResolveURL(pageURL, u)
			} else {
				rec["url"] = pageURL
			}
			out = append(out, rec)
		})
	})
	return out
}

// collectTyped walks arrays and @graph containers and calls fn for every
// object whose @type is a listing type.
func collectTyped(v any, fn func(map[string]any)) {
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			collectTyped(el, fn)
		}
	case map[string]any:
		if graph, ok := t["@graph"]; ok {
			collectTyped(graph, fn)
		}
		if isListingType(t["@type"]) {
			fn(t)
		}
	}
}

func isListingType(v any) bool {
	switch t := v.(type) {
	case string:
		name := t[strings.LastIndexAny(t, "/:")+1:]
		return listingTypes[strings.ToLower(name)]
	case []any:
		for _, el := range t {
			if isListingType(el) {
				return true
			}
		}
	}
	return false
}

func domListing(doc *goquery.Document, pageURL string) models.RawListing {
	doc.Find("script, style, noscript, template").Remove()
	bodyText := textOf(doc.Find("body"))

	rec := models.RawListing{"url": pageURL, "_extractedFrom": fromDOM}
	setText := func(key, val string) {
		if val = squash(val); val != "" {
			rec[key] = val
		}
	}

	setText("title", firstNonEmpty(
		textOf(doc.Find("h1").First()),
		metaContent(doc, `meta[property="og:title"]`),
		doc.Find("title").First().Text(),
	))
	setText("price", firstMatch(priceRe, classTexts(doc, "price", "rent")...))
	setText("address", firstNonEmpty(
		textOf(doc.Find(`[itemprop="address"]`).First()),
		textOf(doc.Find("address").First()),
		firstOf(classTexts(doc, "address", "location")),
	))
	setText("description", firstNonEmpty(
		firstOf(classTexts(doc, "description", "about", "overview")),
		metaContent(doc, `meta[name="description"]`),
		metaContent(doc, `meta[property="og:description"]`),
	))

	facts := append(classTexts(doc, "bed", "bath", "sqft", "size", "detail", "fact", "spec"), bodyText)
	setText("beds", submatch(bedsRe, facts...))
	setText("baths", submatch(bathsRe, facts...))
	setText("sqft", submatch(sqftRe, facts...))

	if imgs := pageImages(doc, pageURL); len(imgs) > 0 {
		rec["images"] = imgs
	}

	if href, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		setText("phone", strings.TrimPrefix(href, "tel:"))
	} else {
		setText("phone", firstMatch(phoneRe, classTexts(doc, "phone", "contact")...))
	}
	if href, ok := doc.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		addr, _, _ := strings.Cut(strings.TrimPrefix(href, "mailto:"), "?")
		setText("email", addr)
	} else {
		setText("email", firstMatch(emailRe, classTexts(doc, "email", "contact")...))
	}
	setText("contactName", firstOf(classTexts(doc, "agent-name", "contact-name", "manager-name", "leasing-office")))

	_, hasTitle := rec["title"]
	_, hasPrice := rec["price"]
	_, hasAddress := rec["address"]
	if !hasTitle && !hasPrice && !hasAddress {
		return nil
	}
	return rec
}

var galleryHints = []string{"gallery", "photo", "carousel", "slider", "slide", "image", "media"}

// pageImages collects og:image tags and images inside gallery-like elements,
// resolved against the page and without duplicates.
func pageImages(doc *goquery.Document, pageURL string) []any {
	seen := map[string]bool{}
	var out []any
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := utils.ResolveURL(pageURL, src)
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if !hasClassHint(img, galleryHints) && !hasClassHint(img.Parent(), galleryHints) &&
			img.ParentsFiltered("figure, picture").Length() == 0 {
			return
		}
		add(firstNonEmpty(img.AttrOr("data-src", ""), img.AttrOr("src", "")))
	})
	return out
}

// classTexts returns the squashed text of every element whose class contains
// one of hints, in document order.
func classTexts(doc *goquery.Document, hints ...string) []string {
	var out []string
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		if hasClassHint(s, hints) {
			if t := textOf(s); t != "" {
				out = append(out, t)
			}
		}
	})
	return out
}

func metaContent(doc *goquery.Document, selector string) string {
	return doc.Find(selector).First().AttrOr("content", "")
}

func firstMatch(re *regexp.Regexp, texts ...string) string {
	for _, t := range texts {
		if m := re.FindString(t); m != "" {
			return m
		}
	}
	return ""
}

func submatch(re *regexp.Regexp, texts ...string) string {
	for _, t := range texts {
		if m := re.FindStringSubmatch(t); m != nil {
			return m[1]
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstOf(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// textOf joins the text nodes below sel with single spaces, so adjacent
// block elements never run their words together.
func textOf(sel *goquery.Selection) string {
	var parts []string
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			parts = append(parts, c.Text())
			return
		}
		parts = append(parts, textOf(c))
	})
	return squash(strings.Join(parts, " "))
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

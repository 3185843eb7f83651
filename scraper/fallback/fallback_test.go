package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-ingest/utils"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestHarvestLinks(t *testing.T) {
	doc := parseHTML(t, `<html><body>
		<a href="/apartments/maple-court?utm_source=feed">Maple</a>
		<a href="/apartments/maple-court/">Maple again</a>
		<a href="https://RENTALS.example.com/listing/123">Listing 123</a>
		<div class="listing-card"><span><a href="/p/oak-view">Oak View</a></span></div>
		<a href="/p/204512">Numeric</a>
		<a href="/about">About</a>
		<a href="https://other.example.com/apartments/elsewhere">Other host</a>
		<a href="/apartments/floorplan.jpg">Image</a>
		<a href="#top">Top</a>
		<a href="mailto:leasing@example.com">Mail</a>
		<a href="/search?city=austin">Self</a>
	</body></html>`)

	links := HarvestLinks(doc, "https://rentals.example.com/search?city=austin")
	assert.Equal(t, []string{
		"https://rentals.example.com/apartments/maple-court",
		"https://rentals.example.com/listing/123",
		"https://rentals.example.com/p/oak-view",
		"https://rentals.example.com/p/204512",
	}, links)
}

func TestHarvestLinksHonoursBaseHref(t *testing.T) {
	doc := parseHTML(t, `<html><head><base href="https://rentals.example.com/city/"></head>
		<body><a href="units/5b">5B</a></body></html>`)

	links := HarvestLinks(doc, "https://rentals.example.com/search")
	assert.Equal(t, []string{"https://rentals.example.com/city/units/5b"}, links)
}

func TestParseDetailPrefersJSONLD(t *testing.T) {
	doc := parseHTML(t, `<html><head>
		<script type="application/ld+json">{"@context": "https://schema.org", "@graph": [
			{"@type": "WebPage", "name": "Page"},
			{"@type": "Apartment", "name": "Unit 5B", "url": "https://rentals.example.com/units/5b"}
		]}</script>
		<script type="application/ld+json">[{"@type": ["Product", "Thing"], "name": "Unit 6C"}, {"@type": "Organization"}]</script>
		<script type="application/ld+json">{not json</script>
		<script type="application/ld+json">{"@type": "http://schema.org/Residence", "name": "House", "url": "../units/7d"}</script>
		</head><body><h1>Ignored DOM title</h1><div class="price">$999</div></body></html>`)

	recs := ParseDetail(doc, "https://rentals.example.com/units/6c")
	require.Len(t, recs, 3)

	assert.Equal(t, "Unit 5B", recs[0]["name"])
	assert.Equal(t, "https://rentals.example.com/units/5b", recs[0]["url"])
	assert.Equal(t, "Unit 6C", recs[1]["name"])
	assert.Equal(t, "https://rentals.example.com/units/6c", recs[1]["url"])
	assert.Equal(t, "House", recs[2]["name"])
	assert.Equal(t, "https://rentals.example.com/units/7d", recs[2]["url"], "relative urls resolve against the detail page")
	for _, rec := range recs {
		assert.Equal(t, "jsonld", rec["_extractedFrom"])
	}
}

func TestParseDetailDOMHeuristics(t *testing.T) {
	doc := parseHTML(t, `<html><head>
		<title>Maple Court | Rentals</title>
		<meta name="description" content="Sunny two bedroom near the park.">
		<meta property="og:image" content="/img/hero.jpg">
		</head><body>
		<h1> Maple Court
			<small>Apartments</small></h1>
		<div class="listing-price">Starting at $1,200 - $1,500 / month</div>
		<address>123 Main St,<br>Austin, TX 78701</address>
		<ul class="facts"><li>2 Beds</li><li>1.5 Baths</li><li>950 sq ft</li></ul>
		<div class="gallery">
			<img src="/img/1.jpg">
			<img data-src="https://cdn.example.com/2.jpg" src="data:image/gif;base64,R0lGOD">
			<img src="/img/hero.jpg">
		</div>
		<img src="/img/logo.png">
		<a href="tel:+1-555-010-0100">Call</a>
		<a href="mailto:leasing@example.com?subject=Hi">Email</a>
		<div class="agent-name">Jo Rivera</div>
		<script>var price = "$9,999";</script>
	</body></html>`)

	recs := ParseDetail(doc, "https://rentals.example.com/apartments/maple-court")
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, "dom", rec["_extractedFrom"])
	assert.Equal(t, "https://rentals.example.com/apartments/maple-court", rec["url"])
	assert.Equal(t, "Maple Court Apartments", rec["title"])
	assert.Equal(t, "$1,200 - $1,500", rec["price"])
	assert.Equal(t, "123 Main St, Austin, TX 78701", rec["address"])
	assert.Equal(t, "Sunny two bedroom near the park.", rec["description"])
	assert.Equal(t, "2", rec["beds"])
	assert.Equal(t, "1.5", rec["baths"])
	assert.Equal(t, "950", rec["sqft"])
	assert.Equal(t, []any{
		"https://rentals.example.com/img/hero.jpg",
		"https://rentals.example.com/img/1.jpg",
		"https://cdn.example.com/2.jpg",
	}, rec["images"])
	assert.Equal(t, "+1-555-010-0100", rec["phone"])
	assert.Equal(t, "leasing@example.com", rec["email"])
	assert.Equal(t, "Jo Rivera", rec["contactName"])
}

func TestParseDetailMissingFieldsStayAbsent(t *testing.T) {
	doc := parseHTML(t, `<html><body><h1>Studio loft</h1><p>Call us.</p></body></html>`)

	recs := ParseDetail(doc, "https://rentals.example.com/units/1")
	require.Len(t, recs, 1)
	assert.Equal(t, "Studio loft", recs[0]["title"])
	for _, key := range []string{"price", "address", "beds", "baths", "sqft", "images", "phone", "email"} {
		assert.NotContains(t, recs[0], key)
	}
}

func TestParseDetailNothingUseful(t *testing.T) {
	doc := parseHTML(t, `<html><body><p>Page not found</p></body></html>`)
	assert.Nil(t, ParseDetail(doc, "https://rentals.example.com/units/1"))
}

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func (f *fakeRenderer) Render(_ context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[pageURL]++
	html, ok := f.pages[pageURL]
	if !ok {
		return "", errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	return html, nil
}

func newTestScraper(r Renderer, maxPages int) *Scraper {
	retry := utils.RetryPolicy{MaxRetries: 1}
	return New(r, utils.NewHostLimiter(0), retry, Config{MaxDetailPages: maxPages}, utils.NewNopLogger())
}

func TestScrapeVisitsDetailPages(t *testing.T) {
	r := &fakeRenderer{pages: map[string]string{
		"https://rentals.example.com/search": `<html><body>
			<a href="/units/1">1</a><a href="/units/2">2</a><a href="/units/3">3</a>
		</body></html>`,
		"https://rentals.example.com/units/1": `<html><body><h1>Unit 1</h1><div class="price">$1,000</div></body></html>`,
		"https://rentals.example.com/units/3": `<html><head><script type="application/ld+json">
			{"@type": "Apartment", "name": "Unit 3"}</script></head><body></body></html>`,
	}}

	res, err := newTestScraper(r, 10).Scrape(context.Background(), "https://rentals.example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Visited)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, "Unit 1", res.Listings[0]["title"])
	assert.Equal(t, "Unit 3", res.Listings[1]["name"])

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "https://rentals.example.com/units/2", res.Failed[0].URL)
	assert.Equal(t, 2, r.calls["https://rentals.example.com/units/2"], "failed page is retried once")
}

func TestScrapeCapsDetailPages(t *testing.T) {
	pages := map[string]string{"https://rentals.example.com/search": `<html><body>
		<a href="/units/1">1</a><a href="/units/2">2</a><a href="/units/3">3</a><a href="/units/4">4</a>
	</body></html>`}
	r := &fakeRenderer{pages: pages}

	res, err := newTestScraper(r, 2).Scrape(context.Background(), "https://rentals.example.com/search")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Visited)
	assert.NotContains(t, r.calls, "https://rentals.example.com/units/3")
}

func TestScrapeTargetFailureIsFatal(t *testing.T) {
	_, err := newTestScraper(&fakeRenderer{}, 5).Scrape(context.Background(), "https://rentals.example.com/search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

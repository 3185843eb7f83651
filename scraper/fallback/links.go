package fallback

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"rental-ingest/utils"
)

var (
	detailPathRe = regexp.MustCompile(`(?i)/(listings?|property|properties|apartments?|units?|rentals?|homes?|rooms|for-rent|floorplans?|details?|residences?)/[^/?#]+`)
	numericIDRe  = regexp.MustCompile(`/\d{4,}(?:[/-]|$)`)
	assetPathRe  = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|svg|pdf|css|js|ico|xml|zip)$`)
)

// linkClassHints are class-name substrings of listing cards. They are
// checked on the anchor and on its two closest ancestors.
var linkClassHints = []string{"listing", "property", "rental", "apartment", "unit-card", "result", "card"}

// HarvestLinks returns the same-host detail links of a listings page,
// canonicalized and in document order. A link qualifies when its path looks
// like a detail page or when it sits inside a listing card.
func HarvestLinks(doc *goquery.Document, pageURL string) []string {
	self := utils.Canonicalize(pageURL)
	page, err := url.Parse(self)
	if err != nil || page.Host == "" {
		return nil
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		base = utils.ResolveURL(pageURL, href)
	}

	seen := utils.NewURLSet()
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		abs := utils.Canonicalize(utils.ResolveURL(base, href))
		u, err := url.Parse(abs)
		if err != nil || u.Scheme != "https" || u.Host != page.Host {
			return
		}
		if abs == self || assetPathRe.MatchString(u.Path) {
			return
		}
		if !detailPathRe.MatchString(u.Path) && !numericIDRe.MatchString(u.Path) && !inListingCard(a) {
			return
		}
		if seen.Add(abs) {
			links = append(links, abs)
		}
	})
	return links
}

func inListingCard(a *goquery.Selection) bool {
	sel := a
	for depth := 0; depth < 3 && sel.Length() > 0; depth++ {
		if hasClassHint(sel, linkClassHints) {
			return true
		}
		sel = sel.Parent()
	}
	return false
}

func hasClassHint(sel *goquery.Selection, hints []string) bool {
	cls, ok := sel.Attr("class")
	if !ok {
		return false
	}
	cls = strings.ToLower(cls)
	for _, h := range hints {
		if strings.Contains(cls, h) {
			return true
		}
	}
	return false
}

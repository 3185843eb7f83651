package normalize

import (
	"net/url"
	"strconv"
	"strings"

	"rental-ingest/models"
	"rental-ingest/utils"
)

const (
	wixImagePrefix = "wix:image://v1/"
	wixMediaBase   = "https://static.wixstatic.com/media/"
)

var imageObjectKeys = []string{"url", "src", "href", "uri", "contentUrl", "original", "large", "full", "fullUrl", "medium", "link"}

// DecodeWixMedia turns a Wix media reference such as
// "wix:image://v1/abc~mv2.jpg/name.jpg#originWidth=800&originHeight=600"
// into its CDN URL and the size carried in the fragment.
func DecodeWixMedia(uri string) (string, models.ImageSize, bool) {
	if !strings.HasPrefix(uri, wixImagePrefix) {
		return "", models.ImageSize{}, false
	}
	rest := strings.TrimPrefix(uri, wixImagePrefix)

	var fragment string
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}
	id := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id = rest[:i]
	}
	if id == "" {
		return "", models.ImageSize{}, false
	}

	var size models.ImageSize
	if q, err := url.ParseQuery(fragment); err == nil {
		size.Width = positiveInt(q.Get("originWidth"))
		size.Height = positiveInt(q.Get("originHeight"))
	}
	return wixMediaBase + id, size, true
}

func positiveInt(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// imageCollector gathers image URLs in first-seen order.
type imageCollector struct {
	base      string
	decodeWix bool
	urls      []string
	hints     map[string]models.ImageSize
	seen      map[string]struct{}
}

func newImageCollector(base string, decodeWix bool) *imageCollector {
	return &imageCollector{base: base, decodeWix: decodeWix, seen: make(map[string]struct{})}
}

// add accepts a URL string, an object carrying a URL field or a list of either.
func (c *imageCollector) add(v any) {
	switch t := v.(type) {
	case string:
		c.addString(t)
	case []any:
		for _, item := range t {
			c.add(item)
		}
	case map[string]any:
		if u, ok := lookup(t, imageObjectKeys...); ok {
			if s, isStr := u.(string); isStr {
				c.addString(s)
				return
			}
			c.add(u)
		}
	}
}

func (c *imageCollector) addString(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}

	var size models.ImageSize
	if c.decodeWix {
		if decoded, sz, ok := DecodeWixMedia(s); ok {
			s, size = decoded, sz
		}
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	s = utils.ResolveURL(c.base, s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return
	}
	if _, dup := c.seen[s]; dup {
		return
	}
	c.seen[s] = struct{}{}
	c.urls = append(c.urls, s)

	if size.Width != nil || size.Height != nil {
		if c.hints == nil {
			c.hints = make(map[string]models.ImageSize)
		}
		c.hints[s] = size
	}
}

// parseContact reads flat contact fields first and lets a nested contact
// object fill only the gaps.
func parseContact(raw map[string]any) *models.Contact {
	c := &models.Contact{
		Phone: lookupString(raw, "phone", "phoneNumber", "contactPhone", "telephone"),
		Email: lookupString(raw, "email", "contactEmail", "emailAddress"),
		Name:  lookupString(raw, "contactName", "agentName", "managerName", "propertyManager"),
	}

	for _, key := range []string{"contact", "agent", "manager", "leasingOffice"} {
		nested := lookupObject(raw, key)
		if nested == nil {
			continue
		}
		if c.Phone == nil {
			c.Phone = lookupString(nested, "phone", "phoneNumber", "telephone", "mobile")
		}
		if c.Email == nil {
			c.Email = lookupString(nested, "email", "emailAddress")
		}
		if c.Name == nil {
			c.Name = lookupString(nested, "name", "fullName", "displayName")
		}
	}

	if c.Empty() {
		return nil
	}
	return c
}

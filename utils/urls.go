package utils

import (
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"ref":    {},
	"source": {},
	"mc_cid": {},
	"mc_eid": {},
	"_ga":    {},
	"_gl":    {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// Canonicalize returns the deduplication-safe form of a listing URL: https
// scheme, lowercase host, tracking parameters removed, remaining parameters
// sorted by key, fragment dropped and trailing slashes trimmed from non-root
// paths. Input that does not parse as an absolute http(s) URL is returned
// unchanged.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	if strings.HasPrefix(trimmed, "//") {
		trimmed = "https:" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return raw
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return raw
	}

	u.Scheme = "https"
	u.Host = canonicalHost(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false

	if p := strings.TrimRight(u.Path, "/"); p != "" {
		u.Path = p
	} else if u.Path != "" {
		u.Path = "/"
	}
	u.RawPath = ""

	return u.String()
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	for _, port := range []string{":80", ":443"} {
		if strings.HasSuffix(host, port) {
			return strings.TrimSuffix(host, port)
		}
	}
	return host
}

type queryPair struct {
	key, value string
	raw        string
}

// cleanQuery splits rawQuery on '&' only, so a pair holding ';' survives
// intact. Pairs that fail to unescape are kept verbatim.
func cleanQuery(rawQuery string) string {
	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, kerr := url.QueryUnescape(rawKey)
		value, verr := url.QueryUnescape(rawValue)
		if kerr != nil || verr != nil {
			if !isTrackingParam(rawKey) {
				pairs = append(pairs, queryPair{key: rawKey, raw: part})
			}
			continue
		}
		if isTrackingParam(key) {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for _, p := range pairs {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		if p.raw != "" {
			b.WriteString(p.raw)
			continue
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// ResolveURL resolves ref against base. It returns ref unchanged when either
// side fails to parse.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

package utils

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"tracking stripped and https forced", "http://EXAMPLE.com/x/?utm_source=a&id=5", "https://example.com/x?id=5"},
		{"query sorted", "https://example.com/a?z=1&b=2&a=3", "https://example.com/a?a=3&b=2&z=1"},
		{"all tracking params", "https://example.com/l?fbclid=1&gclid=2&ref=3&source=4&mc_cid=5&mc_eid=6&_ga=7&_gl=8&utm_medium=x", "https://example.com/l"},
		{"root path kept", "https://example.com/", "https://example.com/"},
		{"fragment dropped", "https://example.com/l/42#photos", "https://example.com/l/42"},
		{"default port removed", "http://example.com:80/a", "https://example.com/a"},
		{"custom port kept", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"scheme-relative", "//Example.com/a/", "https://example.com/a"},
		{"repeated trailing slashes", "https://example.com/x//", "https://example.com/x"},
		{"malformed returned unchanged", "http://[::1", "http://[::1"},
		{"relative returned unchanged", "/listings/42", "/listings/42"},
		{"non-http returned unchanged", "mailto:a@example.com", "mailto:a@example.com"},
		{"empty", "", ""},
		{"semicolon kept in value", "https://ex.com/listing?id=1;unit=2", "https://ex.com/listing?id=1%3Bunit%3D2"},
		{"semicolon after tracking param", "https://ex.com/l?utm_source=x;y&id=4", "https://ex.com/l?id=4"},
		{"bad escape kept verbatim", "https://ex.com/l?b=%zz&a=1", "https://ex.com/l?a=1&b=%zz"},
		{"bare key", "https://ex.com/l?furnished", "https://ex.com/l?furnished="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.input); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIsFixedPoint(t *testing.T) {
	inputs := []string{
		"http://EXAMPLE.com/x/?utm_source=a&id=5",
		"https://example.com/a%20b/?q=hello+world&a=%2F",
		"https://example.com?b=&a=1&a=0",
		"https://example.com/x//",
		"HTTP://Example.COM:443/Path/To/",
		"not a url",
		"ftp://example.com/file",
		"https://user@example.com/p?x=%E2%9C%93",
		"https://ex.com/listing?id=1;unit=2",
		"https://ex.com/l?b=%zz&a=1",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("not a fixed point for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestCanonicalizeKeepsSemicolonPairsDistinct(t *testing.T) {
	a := Canonicalize("https://ex.com/listing?id=1;unit=2")
	b := Canonicalize("https://ex.com/listing?id=1;unit=3")
	if a == b {
		t.Errorf("distinct listings collapsed to %q", a)
	}
}

func TestResolveURL(t *testing.T) {
	if got := ResolveURL("https://example.com/search?q=1", "/listing/9"); got != "https://example.com/listing/9" {
		t.Errorf("ResolveURL relative: got %q", got)
	}
	if got := ResolveURL("https://example.com/", "https://cdn.example.com/a.jpg"); got != "https://cdn.example.com/a.jpg" {
		t.Errorf("ResolveURL absolute: got %q", got)
	}
	if got := ResolveURL("", "/x"); got != "/x" {
		t.Errorf("ResolveURL empty base: got %q", got)
	}
}

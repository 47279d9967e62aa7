package urlutil

import (
	"net/url"
	"strings"
)

// ResolveAgainst joins a possibly-relative href with the page URL it was
// discovered on and normalizes the result. Returns false for non-HTTP(S)
// targets (mailto:, javascript:, data:, ...) and unparsable hrefs.
func ResolveAgainst(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	return Normalize(resolved.String())
}

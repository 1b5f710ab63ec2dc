package lazy

import (
	"net/url"
	"strings"
)

// AbsoluteURL resolves ref against base. Already-absolute refs pass through;
// unparseable input is returned as-is so callers can decide what to skip.
func AbsoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if ru.IsAbs() {
		return ru.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}

// fetchable reports whether u is an http(s) URL the preloader can request.
func fetchable(u string) bool {
	pu, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return false
	}
	return pu.Scheme == "http" || pu.Scheme == "https"
}

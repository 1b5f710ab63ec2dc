package lazy

import (
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// ImageReference is one image URL recovered from a block of markup.
// Ordinal is the position in the deduplicated first-occurrence sequence.
type ImageReference struct {
	URL     string
	Ordinal int
}

// Extract returns the image URLs referenced by markup, deduplicated, in
// first-occurrence order. It never fails: the markup is scanned token by
// token and whatever is recoverable from malformed input is returned.
// Image tags resolve their source through the usual fallback chain (src,
// first srcset candidate, data-src, data-original, data-lazy-src); inline
// style attributes contribute background-image URLs. Empty sources and
// data: URIs are skipped.
func Extract(markup string) []ImageReference {
	refs := []ImageReference{}
	seen := map[string]struct{}{}
	add := func(raw string) {
		u := strings.TrimSpace(raw)
		if u == "" || strings.HasPrefix(u, "data:") {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		refs = append(refs, ImageReference{URL: u, Ordinal: len(refs)})
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return refs
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data == "img" {
			if src := tokenImageSource(tok.Attr); src != "" {
				add(src)
			}
		}
		if style := tokenAttr(tok.Attr, "style"); style != "" {
			for _, u := range styleImageURLs(style) {
				add(u)
			}
		}
	}
}

// tokenImageSource picks the real source of an image tag. The chain mirrors
// what lazy-loading markup in the wild actually carries; data: entries fall
// through so a placeholder src does not shadow a deferred attribute.
func tokenImageSource(attrs []html.Attribute) string {
	for _, name := range []string{"src", "srcset", "data-src", "data-original", DeferredSrcAttr} {
		v := strings.TrimSpace(tokenAttr(attrs, name))
		if name == "srcset" {
			v = pickFromSrcset(v)
		}
		if v == "" || strings.HasPrefix(v, "data:") {
			continue
		}
		return v
	}
	return ""
}

func tokenAttr(attrs []html.Attribute, name string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// pickFromSrcset returns the first URL from a srcset string.
func pickFromSrcset(srcset string) string {
	s := strings.TrimSpace(srcset)
	if s == "" {
		return ""
	}
	// srcset: comma-separated candidates; each candidate: URL [descriptor]
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sp := strings.SplitN(p, " ", 2)
		if u := strings.TrimSpace(sp[0]); u != "" {
			return u
		}
	}
	return ""
}

// styleImageURLs extracts background image URLs from an inline style
// declaration list. Unparseable styles yield nothing.
func styleImageURLs(style string) []string {
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return nil
	}
	var urls []string
	for _, d := range decls {
		p := strings.ToLower(strings.TrimSpace(d.Property))
		if p != "background" && p != "background-image" {
			continue
		}
		urls = append(urls, cssImageURLs(d.Value)...)
	}
	return urls
}

// cssImageURLs collects every url(...) argument in a CSS value, handling
// nested parentheses and quoting.
func cssImageURLs(value string) []string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	lower := strings.ToLower(v)
	var urls []string
	searchIdx := 0
	for {
		idx := strings.Index(lower[searchIdx:], "url(")
		if idx == -1 {
			return urls
		}
		idx += searchIdx
		start := idx + 4
		depth := 1
		end := start
		for end < len(v) && depth > 0 {
			switch v[end] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					raw := strings.TrimSpace(v[start:end])
					raw = strings.Trim(raw, "\"'")
					if raw != "" && !strings.EqualFold(raw, "none") {
						urls = append(urls, raw)
					}
				}
			}
			end++
		}
		if depth > 0 || end >= len(v) {
			return urls
		}
		searchIdx = end
		if searchIdx >= len(v) {
			return urls
		}
	}
}

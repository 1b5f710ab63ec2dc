package lazy

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DeferredSrcAttr holds the real image URL until promotion. It is never
	// cleared, even after a terminal load failure.
	DeferredSrcAttr = "data-lazy-src"
	// DeferredSrcsetAttr holds a defused srcset, restored on promotion.
	DeferredSrcsetAttr = "data-lazy-srcset"
	// IDAttr carries the loader-assigned element key so host observers can
	// address elements.
	IDAttr = "data-lazy-id"

	// MarkerClass tags rewritten elements for discovery.
	MarkerClass = "lazy-image"

	classPending = "lazy-pending"
	classLoading = "lazy-loading"
	classLoaded  = "lazy-loaded"
	classError   = "lazy-error"
	classView    = "lazy-view"

	// PlaceholderPixel is a transparent 1x1 GIF. Inline, so the placeholder
	// itself costs no network request.
	PlaceholderPixel = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
)

// Rewrite defers every image tag in markup: the real source moves to
// data-lazy-src (a live srcset moves to data-lazy-srcset), the visible src
// becomes the placeholder pixel, and the marker class is added for later
// discovery. Already-rewritten tags are left untouched, so Rewrite is
// idempotent. Markup without a deferrable image is returned unchanged, and
// any internal failure returns the input rather than an error.
func Rewrite(markup string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return markup
	}
	changed := 0
	for _, n := range nodes {
		changed += RewriteNode(n)
	}
	if changed == 0 {
		return markup
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return markup
		}
	}
	return buf.String()
}

// RewriteNode defers image tags in a parsed tree in place and returns how
// many tags it rewrote. Hosts that already own an *html.Node document use
// this directly instead of round-tripping through strings.
func RewriteNode(root *html.Node) int {
	if root == nil {
		return 0
	}
	n := 0
	if root.Type == html.ElementNode && root.Data == "img" {
		if rewriteImg(root) {
			n++
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		n += RewriteNode(c)
	}
	return n
}

func rewriteImg(n *html.Node) bool {
	if getAttr(n, DeferredSrcAttr) != "" || hasClass(n, MarkerClass) {
		return false
	}
	src := strings.TrimSpace(getAttr(n, "src"))
	srcset := strings.TrimSpace(getAttr(n, "srcset"))
	real := src
	if real == "" || strings.HasPrefix(real, "data:") {
		real = pickFromSrcset(srcset)
	}
	if real == "" || strings.HasPrefix(real, "data:") {
		return false
	}
	setAttr(n, DeferredSrcAttr, real)
	if srcset != "" && !strings.HasPrefix(srcset, "data:") {
		setAttr(n, DeferredSrcsetAttr, srcset)
		removeAttr(n, "srcset")
	}
	setAttr(n, "src", PlaceholderPixel)
	addClass(n, MarkerClass)
	addClass(n, classPending)
	return true
}

// ---------------------- node attribute helpers ----------------------

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	cur := getAttr(n, "class")
	if cur == "" {
		setAttr(n, "class", class)
		return
	}
	setAttr(n, "class", cur+" "+class)
}

func removeClass(n *html.Node, class string) {
	fields := strings.Fields(getAttr(n, "class"))
	out := make([]string, 0, len(fields))
	for _, c := range fields {
		if c != class {
			out = append(out, c)
		}
	}
	setAttr(n, "class", strings.Join(out, " "))
}

func swapClass(n *html.Node, from, to string) {
	removeClass(n, from)
	addClass(n, to)
}

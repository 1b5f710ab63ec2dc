// Package audit verifies rewritten pages in a real browser. It serves the
// original and rewritten variants of a page from a loopback server, drives
// headless Chrome at both, and counts image-type network requests via CDP
// events: a correct rewrite issues none on initial render. Verification
// tooling only, not part of the library surface.
package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"adagio/lazy"
)

// Report summarizes one audit run.
type Report struct {
	URL string

	// Image-type network requests issued while rendering each variant.
	OriginalImageRequests  int
	RewrittenImageRequests int

	// Marker elements the rewrite produced.
	Markers int

	// Promoted counts elements the in-page promotion script restored while
	// scrolling. Only populated when Run is called with scroll enabled.
	Promoted int
}

// Options adjusts an audit run.
type Options struct {
	// Scroll injects a minimal promotion script into the rewritten variant,
	// scrolls to the bottom, and reports how many images promoted.
	Scroll bool
	// Timeout bounds each browser visit. Zero means 25 seconds.
	Timeout time.Duration
	// UserAgent is sent when fetching the target page.
	UserAgent string
}

// Auditor owns a headless Chrome allocator reused across runs.
type Auditor struct {
	allocator context.Context
	cancel    context.CancelFunc
	log       *log.Entry
}

// NewAuditor starts the browser allocator. Call Close when done.
func NewAuditor() (*Auditor, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Auditor{
		allocator: allocCtx,
		cancel:    cancel,
		log:       log.WithField("component", "audit"),
	}, nil
}

// Close releases the browser allocator.
func (a *Auditor) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Run fetches target, rewrites it, and measures both variants.
func (a *Auditor) Run(ctx context.Context, target string, opts Options) (*Report, error) {
	original, err := fetchPage(ctx, target, opts.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("fetch target: %w", err)
	}
	rewritten := lazy.Rewrite(original)

	rep := &Report{
		URL:     target,
		Markers: countMarkers(rewritten),
	}

	ps, err := newPageServer(original, rewritten, target, a.log)
	if err != nil {
		return nil, err
	}
	defer ps.close()

	rep.OriginalImageRequests, _, err = a.visit(ctx, ps.url("/original"), false, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("visit original: %w", err)
	}
	rep.RewrittenImageRequests, rep.Promoted, err = a.visit(ctx, ps.url("/rewritten"), opts.Scroll, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("visit rewritten: %w", err)
	}

	a.log.WithFields(log.Fields{
		"url":       target,
		"original":  rep.OriginalImageRequests,
		"rewritten": rep.RewrittenImageRequests,
		"markers":   rep.Markers,
		"promoted":  rep.Promoted,
	}).Info("audit complete")
	return rep, nil
}

// promotionScript is the minimal in-page analog of the proximity loader,
// used only to demonstrate that rewritten markup promotes under scroll.
const promotionScript = `(function () {
	window.__lazyPromoted = 0;
	var obs = new IntersectionObserver(function (entries) {
		entries.forEach(function (en) {
			if (!en.isIntersecting) return;
			var img = en.target;
			var src = img.getAttribute('data-lazy-src');
			if (src) {
				img.src = src;
				window.__lazyPromoted++;
				obs.unobserve(img);
			}
		});
	}, { rootMargin: '200px' });
	document.querySelectorAll('img.lazy-image[data-lazy-src]').forEach(function (img) {
		obs.observe(img);
	});
})();`

// visit loads url in a fresh tab and counts image-type requests. With scroll
// set it also runs the promotion script and scrolls through the page.
func (a *Auditor) visit(ctx context.Context, url string, scroll bool, timeout time.Duration) (images, promoted int, err error) {
	taskCtx, cancelTab := chromedp.NewContext(a.allocator)
	defer cancelTab()

	if ctx != nil {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(taskCtx)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-taskCtx.Done():
			}
		}()
		defer cancel()
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, timeout)
	defer cancelTimeout()

	var mu sync.Mutex
	count := 0
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && e.Type == network.ResourceTypeImage {
			mu.Lock()
			count++
			mu.Unlock()
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if scroll {
		actions = append(actions,
			chromedp.Evaluate(promotionScript, nil),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),
			chromedp.Evaluate(`window.__lazyPromoted || 0`, &promoted),
		)
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return 0, 0, err
	}
	mu.Lock()
	images = count
	mu.Unlock()
	return images, promoted, nil
}

var markerSelector = cascadia.MustCompile("img." + lazy.MarkerClass + "[" + lazy.DeferredSrcAttr + "]")

func countMarkers(markup string) int {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return 0
	}
	return len(cascadia.QueryAll(doc, markerSelector))
}

func fetchPage(ctx context.Context, url, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

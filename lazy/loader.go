package lazy

import (
	"fmt"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// promotionRetryLimit is the promotion contract, not a tunable: one retry
// after a failed load, then the element is terminally failed.
const promotionRetryLimit = 1

// Observer is the injected viewport-proximity capability. The host begins
// watching an element on Observe and calls Loader.Promote with the same key
// once the element's box enters the margin-expanded viewport. Unobserve
// must be idempotent. Implementations may call back into the Loader
// synchronously from Observe.
type Observer interface {
	Observe(key string, node *html.Node, margin int) error
	Unobserve(key string)
}

// markerSelector matches elements produced by Rewrite.
var markerSelector = cascadia.MustCompile("img." + MarkerClass + "[" + DeferredSrcAttr + "]")

type tracked struct {
	key      string
	node     *html.Node
	state    LoadState
	retries  int
	observed bool
}

// Stats counts a loader's tracked elements by state.
type Stats struct {
	Pending    int
	Preloading int
	Loaded     int
	Failed     int
}

// Loader owns the deferred images inside one host-owned container. It
// enumerates marker elements on Attach, promotes each at most once on its
// proximity signal, and applies the single-retry policy on load errors.
// All methods are safe for concurrent use.
type Loader struct {
	cfg     Config
	obs     Observer
	metrics *Metrics
	log     *log.Entry

	mu    sync.Mutex
	gen   string
	elems map[string]*tracked
	order []string
}

// NewLoader builds a loader around the injected observer. A nil observer is
// tolerated: elements then promote only through explicit Promote calls.
func NewLoader(cfg Config, obs Observer, m *Metrics) *Loader {
	return &Loader{
		cfg:     cfg.withDefaults(),
		obs:     obs,
		metrics: m,
		log:     log.WithField("component", "loader"),
	}
}

// Attach scans container for marker elements and begins observing them. Any
// previously attached set is released first, so re-attaching after a content
// swap cannot leak observers or touch detached nodes. Returns the number of
// elements registered; zero matches is not an error.
func (l *Loader) Attach(container *html.Node) (int, error) {
	if container == nil {
		return 0, ErrNilContainer
	}
	l.Detach()

	nodes := cascadia.QueryAll(container, markerSelector)

	l.mu.Lock()
	l.gen = uuid.NewString()[:8]
	l.elems = make(map[string]*tracked, len(nodes))
	l.order = make([]string, 0, len(nodes))
	registered := make([]*tracked, 0, len(nodes))
	for i, n := range nodes {
		key := fmt.Sprintf("%s-%d", l.gen, i)
		setAttr(n, IDAttr, key)
		t := &tracked{key: key, node: n, state: StatePending}
		l.elems[key] = t
		l.order = append(l.order, key)
		registered = append(registered, t)
	}
	l.mu.Unlock()

	if l.obs == nil {
		if len(registered) > 0 {
			l.log.Warn("no observer; elements promote only on explicit Promote calls")
		}
		return len(registered), nil
	}
	// Observation starts outside the lock: observers are allowed to deliver
	// a proximity signal synchronously.
	for _, t := range registered {
		if err := l.obs.Observe(t.key, t.node, l.cfg.ProximityMargin); err != nil {
			l.log.WithField("key", t.key).WithError(err).Warn("observe failed, element stays pending")
			continue
		}
		l.mu.Lock()
		t.observed = true
		l.mu.Unlock()
	}
	return len(registered), nil
}

// Detach releases every observer registration and drops the tracked set.
// Signals that arrive afterwards with stale keys are no-ops.
func (l *Loader) Detach() {
	l.mu.Lock()
	elems := l.elems
	l.elems = nil
	l.order = nil
	l.gen = ""
	l.mu.Unlock()

	if l.obs == nil {
		return
	}
	for key, t := range elems {
		if t.observed {
			l.obs.Unobserve(key)
		}
	}
}

// Promote is the proximity signal for key: the element moves from Pending
// to Preloading, its deferred source becomes the live source, and its
// observation ends. Each element is promoted at most once; repeated or
// stale signals do nothing.
func (l *Loader) Promote(key string) {
	l.mu.Lock()
	t, ok := l.elems[key]
	if !ok || t.state != StatePending {
		l.mu.Unlock()
		return
	}
	t.state = StatePreloading
	attachRealSource(t.node)
	swapClass(t.node, classPending, classLoading)
	observed := t.observed
	t.observed = false
	l.mu.Unlock()

	if observed && l.obs != nil {
		l.obs.Unobserve(key)
	}
	l.metrics.observePromotion()
	l.log.WithField("key", key).Debug("promoted")
}

// MarkLoaded records that the promoted resource decoded successfully.
func (l *Loader) MarkLoaded(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.elems[key]
	if !ok || t.state != StatePreloading {
		return
	}
	t.state = StateLoaded
	swapClass(t.node, classLoading, classLoaded)
}

// MarkFailed records a load error for a promoted element. The first failure
// re-attempts the same promotion once; the second is terminal. The deferred
// source attribute survives either way.
func (l *Loader) MarkFailed(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.elems[key]
	if !ok || t.state != StatePreloading {
		return
	}
	if t.retries < promotionRetryLimit {
		t.retries++
		attachRealSource(t.node)
		l.metrics.observePromotionRetry()
		l.log.WithField("key", key).Debug("promotion retry")
		return
	}
	t.state = StateFailed
	setAttr(t.node, "src", PlaceholderPixel)
	swapClass(t.node, classLoading, classError)
	l.metrics.observePromotionFailure()
	l.log.WithField("key", key).Debug("promotion failed, placeholder kept")
}

// State returns the LoadState tracked for key.
func (l *Loader) State(key string) (LoadState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.elems[key]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Keys returns the tracked element keys in document order.
func (l *Loader) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Stats counts tracked elements by state.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var st Stats
	for _, t := range l.elems {
		switch t.state {
		case StatePending:
			st.Pending++
		case StatePreloading:
			st.Preloading++
		case StateLoaded:
			st.Loaded++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

// attachRealSource copies the deferred attributes back onto the live ones.
func attachRealSource(n *html.Node) {
	if src := getAttr(n, DeferredSrcAttr); src != "" {
		setAttr(n, "src", src)
	}
	if ss := getAttr(n, DeferredSrcsetAttr); ss != "" {
		setAttr(n, "srcset", ss)
	}
}

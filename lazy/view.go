package lazy

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ViewState is the rendering state of an ImageView.
type ViewState int

const (
	// ViewPlaceholder shows the inert pixel while waiting for proximity.
	ViewPlaceholder ViewState = iota
	// ViewLoading has the real source attached but not yet decoded.
	ViewLoading
	// ViewLoaded has the decoded image; hosts fade the placeholder out on
	// the lazy-loaded class.
	ViewLoaded
	// ViewError is terminal: the placeholder stays. Retry policy, if any,
	// belongs to the caller.
	ViewError
)

func (s ViewState) String() string {
	switch s {
	case ViewPlaceholder:
		return "placeholder"
	case ViewLoading:
		return "loading"
	case ViewLoaded:
		return "loaded"
	case ViewError:
		return "error"
	}
	return "unknown"
}

type viewOptions struct {
	margin int
	eager  bool
}

// ViewOption adjusts ImageView construction.
type ViewOption func(*viewOptions)

// WithMargin overrides the proximity margin for this view only.
func WithMargin(px int) ViewOption {
	return func(o *viewOptions) { o.margin = px }
}

// WithEager skips proximity observation entirely: the view starts with the
// real source attached, as if already promoted.
func WithEager() ViewOption {
	return func(o *viewOptions) { o.eager = true }
}

// ImageView is a single host-rendered deferred image element. It follows
// the same promote-on-proximity contract as the Loader but is scoped to one
// element the host constructs directly instead of discovering in injected
// markup.
type ImageView struct {
	obs Observer
	log *log.Entry

	mu       sync.Mutex
	key      string
	node     *html.Node
	source   string
	state    ViewState
	observed bool
	released bool
}

// NewImageView builds the element and, unless eager, registers it with the
// observer. classes are presentation classes kept alongside the state
// classes.
func NewImageView(cfg Config, obs Observer, source, alt string, classes []string, opts ...ViewOption) *ImageView {
	cfg = cfg.withDefaults()
	o := viewOptions{margin: cfg.ProximityMargin}
	for _, opt := range opts {
		opt(&o)
	}

	v := &ImageView{
		obs:    obs,
		log:    log.WithField("component", "view"),
		key:    "view-" + uuid.NewString()[:8],
		source: source,
	}

	n := &html.Node{Type: html.ElementNode, Data: "img", DataAtom: atom.Img}
	setAttr(n, "alt", alt)
	addClass(n, classView)
	for _, c := range classes {
		addClass(n, c)
	}
	setAttr(n, IDAttr, v.key)
	setAttr(n, DeferredSrcAttr, source)
	v.node = n

	if o.eager {
		v.state = ViewLoading
		setAttr(n, "src", source)
		addClass(n, classLoading)
		return v
	}

	v.state = ViewPlaceholder
	setAttr(n, "src", PlaceholderPixel)
	addClass(n, classPending)
	if obs != nil {
		if err := obs.Observe(v.key, n, o.margin); err != nil {
			v.log.WithField("key", v.key).WithError(err).Warn("observe failed, view stays deferred")
		} else {
			v.mu.Lock()
			v.observed = true
			v.mu.Unlock()
		}
	}
	return v
}

// Key returns the observer key for this view.
func (v *ImageView) Key() string { return v.key }

// Node returns the element for the host to render. The view keeps mutating
// it through the lifecycle.
func (v *ImageView) Node() *html.Node { return v.node }

// HTML renders the element in its current state.
func (v *ImageView) HTML() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, v.node); err != nil {
		return ""
	}
	return buf.String()
}

// State returns the current rendering state.
func (v *ImageView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Promote attaches the real source. Only the first proximity signal does
// anything.
func (v *ImageView) Promote() {
	v.mu.Lock()
	if v.released || v.state != ViewPlaceholder {
		v.mu.Unlock()
		return
	}
	v.state = ViewLoading
	setAttr(v.node, "src", v.source)
	swapClass(v.node, classPending, classLoading)
	observed := v.observed
	v.observed = false
	v.mu.Unlock()

	if observed && v.obs != nil {
		v.obs.Unobserve(v.key)
	}
}

// OnLoad records a successful decode.
func (v *ImageView) OnLoad() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released || v.state != ViewLoading {
		return
	}
	v.state = ViewLoaded
	swapClass(v.node, classLoading, classLoaded)
}

// OnError drops the view into its persistent placeholder state. The
// deferred source attribute survives for the caller's own retry policy.
func (v *ImageView) OnError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released || v.state != ViewLoading {
		return
	}
	v.state = ViewError
	setAttr(v.node, "src", PlaceholderPixel)
	swapClass(v.node, classLoading, classError)
}

// Release ends observation. Further lifecycle calls are no-ops.
func (v *ImageView) Release() {
	v.mu.Lock()
	if v.released {
		v.mu.Unlock()
		return
	}
	v.released = true
	observed := v.observed
	v.observed = false
	v.mu.Unlock()

	if observed && v.obs != nil {
		v.obs.Unobserve(v.key)
	}
}

package lazy

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fakeObserver records Observe/Unobserve calls and can fail selected keys.
type fakeObserver struct {
	mu         sync.Mutex
	observed   map[string]*html.Node
	margins    map[string]int
	unobserved []string
	failAll    bool
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		observed: map[string]*html.Node{},
		margins:  map[string]int{},
	}
}

func (o *fakeObserver) Observe(key string, node *html.Node, margin int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failAll {
		return errors.New("observer down")
	}
	o.observed[key] = node
	o.margins[key] = margin
	return nil
}

func (o *fakeObserver) Unobserve(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.observed, key)
	o.unobserved = append(o.unobserved, key)
}

func (o *fakeObserver) watching() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observed)
}

func parseContainer(t *testing.T, markup string) *html.Node {
	t.Helper()
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return body
}

func attachRewritten(t *testing.T, l *Loader, markup string) *html.Node {
	t.Helper()
	container := parseContainer(t, Rewrite(markup))
	if _, err := l.Attach(container); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return container
}

func TestLoaderAttach(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{ProximityMargin: 150}, obs, nil)

	container := parseContainer(t, Rewrite(`<p>x</p><img src="a.jpg"><div><img src="b.jpg"></div>`))
	n, err := l.Attach(container)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if n != 2 {
		t.Fatalf("Attach = %d, want 2", n)
	}
	keys := l.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 keys", keys)
	}
	for _, key := range keys {
		if st, ok := l.State(key); !ok || st != StatePending {
			t.Fatalf("State(%q) = %v, %v, want pending", key, st, ok)
		}
		node, ok := obs.observed[key]
		if !ok {
			t.Fatalf("key %q never observed", key)
		}
		if got := getAttr(node, IDAttr); got != key {
			t.Fatalf("node %s = %q, want %q", IDAttr, got, key)
		}
		if obs.margins[key] != 150 {
			t.Fatalf("margin for %q = %d, want 150", key, obs.margins[key])
		}
	}
}

func TestLoaderAttachNil(t *testing.T) {
	t.Parallel()
	l := NewLoader(Config{}, newFakeObserver(), nil)
	if _, err := l.Attach(nil); !errors.Is(err, ErrNilContainer) {
		t.Fatalf("Attach(nil) err = %v, want ErrNilContainer", err)
	}
}

func TestLoaderAttachNoMatches(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	n, err := l.Attach(parseContainer(t, `<p>no images here</p>`))
	if err != nil || n != 0 {
		t.Fatalf("Attach = (%d, %v), want (0, nil)", n, err)
	}
	if obs.watching() != 0 {
		t.Fatalf("observer watching %d, want 0", obs.watching())
	}
}

func TestLoaderPromoteOnce(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg"><img src="b.jpg"><img src="c.jpg">`)

	keys := l.Keys()
	// One signal per element plus spurious repeats.
	for range [3]int{} {
		for _, key := range keys {
			l.Promote(key)
		}
	}
	for _, key := range keys {
		if st, _ := l.State(key); st != StatePreloading {
			t.Fatalf("State(%q) = %v, want preloading", key, st)
		}
		node := obs.observed[key]
		if node != nil {
			t.Fatalf("key %q still observed after promotion", key)
		}
	}
	st := l.Stats()
	if st.Preloading != 3 || st.Pending != 0 {
		t.Fatalf("Stats = %+v, want 3 preloading", st)
	}
	// Each key unobserved exactly once despite the repeats.
	seen := map[string]int{}
	for _, k := range obs.unobserved {
		seen[k]++
	}
	for _, key := range keys {
		if seen[key] != 1 {
			t.Fatalf("key %q unobserved %d times, want 1", key, seen[key])
		}
	}
}

func TestLoaderPromoteAttachesRealSource(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg" srcset="a1.jpg 1x, a2.jpg 2x">`)

	key := l.Keys()[0]
	node := obs.observed[key]
	l.Promote(key)
	if got := getAttr(node, "src"); got != "a.jpg" {
		t.Fatalf("src after promote = %q, want a.jpg", got)
	}
	if got := getAttr(node, "srcset"); got != "a1.jpg 1x, a2.jpg 2x" {
		t.Fatalf("srcset after promote = %q, want restored", got)
	}
	if !hasClass(node, classLoading) || hasClass(node, classPending) {
		t.Fatalf("class after promote = %q, want loading", getAttr(node, "class"))
	}
}

func TestLoaderMarkLoaded(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg">`)

	key := l.Keys()[0]
	// Loaded before promotion is a protocol violation: ignored.
	l.MarkLoaded(key)
	if st, _ := l.State(key); st != StatePending {
		t.Fatalf("State = %v, want pending", st)
	}
	l.Promote(key)
	l.MarkLoaded(key)
	if st, _ := l.State(key); st != StateLoaded {
		t.Fatalf("State = %v, want loaded", st)
	}
}

func TestLoaderFailureRetryThenTerminal(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg">`)

	key := l.Keys()[0]
	node := obs.observed[key]
	l.Promote(key)

	// First failure: one retry, still preloading, real source re-attached.
	l.MarkFailed(key)
	if st, _ := l.State(key); st != StatePreloading {
		t.Fatalf("State after first failure = %v, want preloading", st)
	}
	if got := getAttr(node, "src"); got != "a.jpg" {
		t.Fatalf("src after retry = %q, want a.jpg", got)
	}

	// Second failure: terminal, placeholder back, deferred attr intact.
	l.MarkFailed(key)
	if st, _ := l.State(key); st != StateFailed {
		t.Fatalf("State after second failure = %v, want failed", st)
	}
	if got := getAttr(node, "src"); got != PlaceholderPixel {
		t.Fatalf("src after terminal failure = %q, want placeholder", got)
	}
	if got := getAttr(node, DeferredSrcAttr); got != "a.jpg" {
		t.Fatalf("%s = %q, want a.jpg preserved", DeferredSrcAttr, got)
	}
	if !hasClass(node, classError) {
		t.Fatalf("class = %q, want error class", getAttr(node, "class"))
	}

	// Terminal means terminal.
	l.MarkFailed(key)
	if st, _ := l.State(key); st != StateFailed {
		t.Fatalf("State after extra failure = %v, want failed", st)
	}
	st := l.Stats()
	if st.Failed != 1 {
		t.Fatalf("Stats = %+v, want 1 failed", st)
	}
}

func TestLoaderDetach(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg"><img src="b.jpg">`)

	keys := l.Keys()
	nodes := make([]*html.Node, 0, len(keys))
	for _, k := range keys {
		nodes = append(nodes, obs.observed[k])
	}
	l.Detach()
	if obs.watching() != 0 {
		t.Fatalf("observer watching %d after Detach, want 0", obs.watching())
	}
	if got := l.Keys(); len(got) != 0 {
		t.Fatalf("Keys after Detach = %v, want none", got)
	}
	// Stale signals must not touch the abandoned nodes.
	for i, key := range keys {
		l.Promote(key)
		l.MarkFailed(key)
		if got := getAttr(nodes[i], "src"); got != PlaceholderPixel {
			t.Fatalf("stale Promote mutated node %d: src = %q", i, got)
		}
	}
}

func TestLoaderReattachReleasesPriorSet(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	l := NewLoader(Config{}, obs, nil)
	attachRewritten(t, l, `<img src="a.jpg"><img src="b.jpg">`)
	oldKeys := l.Keys()

	// Content swap: new container, fresh attach.
	attachRewritten(t, l, `<img src="c.jpg">`)
	if obs.watching() != 1 {
		t.Fatalf("observer watching %d after re-attach, want 1", obs.watching())
	}
	for _, old := range oldKeys {
		if _, ok := l.State(old); ok {
			t.Fatalf("stale key %q still tracked after re-attach", old)
		}
		l.Promote(old) // must be a no-op
	}
	if st := l.Stats(); st.Pending != 1 || st.Preloading != 0 {
		t.Fatalf("Stats after stale promotes = %+v, want 1 pending", st)
	}
}

func TestLoaderObserveFailureDegrades(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	obs.failAll = true
	l := NewLoader(Config{}, obs, nil)

	n, err := l.Attach(parseContainer(t, Rewrite(`<img src="a.jpg"><img src="b.jpg">`)))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if n != 2 {
		t.Fatalf("Attach = %d, want 2 despite observe failures", n)
	}
	for _, key := range l.Keys() {
		if st, _ := l.State(key); st != StatePending {
			t.Fatalf("State(%q) = %v, want pending", key, st)
		}
		// Explicit promotion still works without observation.
		l.Promote(key)
		if st, _ := l.State(key); st != StatePreloading {
			t.Fatalf("State(%q) after explicit promote = %v, want preloading", key, st)
		}
	}
}

func TestLoaderNilObserver(t *testing.T) {
	t.Parallel()
	l := NewLoader(Config{}, nil, nil)
	attachRewritten(t, l, `<img src="a.jpg">`)
	key := l.Keys()[0]
	l.Promote(key)
	if st, _ := l.State(key); st != StatePreloading {
		t.Fatalf("State = %v, want preloading", st)
	}
	l.Detach()
}

func TestLoadStateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state LoadState
		want  string
	}{
		{StatePending, "pending"},
		{StatePreloading, "preloading"},
		{StateLoaded, "loaded"},
		{StateFailed, "failed"},
		{LoadState(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Fatalf("LoadState(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

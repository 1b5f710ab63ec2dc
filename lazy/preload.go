package lazy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// IdleSignal reports host idle capacity. Each receive from Ready grants the
// scheduler one unit of spare time, good for one preload task. The channel
// is read from a single goroutine.
type IdleSignal interface {
	Ready() <-chan struct{}
}

// TimerIdle grants capacity on a fixed period. It is the fallback for hosts
// without a real idle source; anything event-driven (frame budget left over,
// input queue empty) makes a better IdleSignal.
type TimerIdle struct {
	ch     chan struct{}
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewTimerIdle starts a timer-backed idle source firing every period.
func NewTimerIdle(period time.Duration) *TimerIdle {
	if period <= 0 {
		period = 300 * time.Millisecond
	}
	t := &TimerIdle{
		ch:     make(chan struct{}, 1),
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *TimerIdle) loop() {
	for {
		select {
		case <-t.ticker.C:
			select {
			case t.ch <- struct{}{}:
			default:
			}
		case <-t.done:
			return
		}
	}
}

// Ready implements IdleSignal.
func (t *TimerIdle) Ready() <-chan struct{} { return t.ch }

// Stop releases the timer. Safe to call more than once.
func (t *TimerIdle) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// task is one queued preload. Owned by the scheduler from enqueue until it
// completes, fails, or its batch is cancelled.
type task struct {
	url      string
	attempts int
	batch    *Batch
	deadline time.Time
}

// Batch is the cancellation handle returned by Schedule.
type Batch struct {
	id   string
	size int

	mu        sync.Mutex
	cancelled bool
}

// ID returns the batch identifier used in logs.
func (b *Batch) ID() string { return b.id }

// Size returns the number of tasks the batch enqueued.
func (b *Batch) Size() int { return b.size }

// Cancel drops every task of this batch that has not started. An in-flight
// fetch completes and its cache effect is kept; no further batch tasks run.
func (b *Batch) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (b *Batch) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Scheduler executes preload tasks on a single worker goroutine, one task
// per idle grant, or unconditionally once a task's ceiling expires. Warming
// is strictly a cache effect: no element state is touched, because at
// preload time the elements may not exist yet.
type Scheduler struct {
	cfg     Config
	idle    IdleSignal
	idleCh  <-chan struct{}
	ownIdle *TimerIdle
	cache   *Cache
	fetch   *fetcher
	metrics *Metrics
	log     *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []*task
	inflight int
	closed   bool
	wake     chan struct{}
}

// NewScheduler starts a scheduler. A nil idle source falls back to a
// TimerIdle owned (and stopped) by the scheduler; a nil cache gets a fresh
// one from cfg; metrics may be nil.
func NewScheduler(cfg Config, idle IdleSignal, cache *Cache, m *Metrics) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:     cfg,
		cache:   cache,
		fetch:   newFetcher(cfg),
		metrics: m,
		log:     log.WithField("component", "preload"),
		wake:    make(chan struct{}, 1),
	}
	if idle == nil {
		s.ownIdle = NewTimerIdle(300 * time.Millisecond)
		idle = s.ownIdle
	}
	s.idle = idle
	s.idleCh = idle.Ready()
	if s.cache == nil {
		s.cache = NewCache(cfg, m)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s
}

// Cache returns the warm cache the scheduler fills.
func (s *Scheduler) Cache() *Cache { return s.cache }

// Schedule enqueues one preload task per usable URL, preserving order, and
// returns the batch handle. Empty entries and data: URIs never become
// tasks.
func (s *Scheduler) Schedule(urls []string) (*Batch, error) {
	b := &Batch{id: uuid.NewString()}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	deadline := time.Now().Add(s.cfg.PreloadCeiling)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "data:") {
			continue
		}
		s.queue = append(s.queue, &task{url: u, batch: b, deadline: deadline})
		b.size++
	}
	s.mu.Unlock()
	if b.size > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.log.WithFields(log.Fields{"batch": b.id, "tasks": b.size}).Debug("batch scheduled")
	return b, nil
}

// Pending reports how many tasks are queued (not yet started).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until the queue is drained and nothing is in flight, or ctx
// is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		quiet := len(s.queue) == 0 && s.inflight == 0
		s.mu.Unlock()
		if quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the worker and abandons queued tasks. The scheduler cannot be
// reused afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.cancel()
	if s.ownIdle != nil {
		s.ownIdle.Stop()
	}
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		var due *task
		var wait time.Duration
		if len(s.queue) > 0 {
			now := time.Now()
			if !s.queue[0].deadline.After(now) {
				due = s.popLocked()
			} else {
				wait = s.queue[0].deadline.Sub(now)
			}
		}
		s.mu.Unlock()

		if due != nil {
			s.execute(due)
			continue
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
			case <-s.idleCh:
				timer.Stop()
				if t := s.pop(); t != nil {
					s.execute(t)
				}
			case <-timer.C:
			}
			continue
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-s.idleCh:
			// idle grant with nothing queued
		}
	}
}

func (s *Scheduler) pop() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

func (s *Scheduler) popLocked() *task {
	for len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		if t.batch.Cancelled() {
			s.metrics.observePreload(outcomeDropped)
			continue
		}
		s.inflight++
		return t
	}
	return nil
}

func (s *Scheduler) execute(t *task) {
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if s.cache.Warmed(t.url) {
		s.metrics.observePreload(outcomeSkipped)
		return
	}

	op := func() error {
		t.attempts++
		data, w, h, err := s.fetch.fetchImage(s.ctx, t.url)
		if err != nil {
			return err
		}
		s.cache.Put(t.url, data, w, h)
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	retries := uint64(0)
	if s.cfg.PreloadAttempts > 1 {
		retries = uint64(s.cfg.PreloadAttempts - 1)
	}
	pol := backoff.WithContext(backoff.WithMaxRetries(bo, retries), s.ctx)
	if err := backoff.Retry(op, pol); err != nil {
		// Best-effort by contract: a preload failure never surfaces.
		s.log.WithFields(log.Fields{
			"batch":    t.batch.id,
			"url":      t.url,
			"attempts": t.attempts,
		}).WithError(err).Debug("preload failed")
		s.metrics.observePreload(outcomeFailed)
		return
	}
	s.metrics.observePreload(outcomeWarmed)
}

// ABOUTME: Bounded time window of seen keys for collapsing redelivered events
// ABOUTME: Expiry is lazy and driven by an injectable clock; no background goroutine

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key string
	at  time.Time
}

// Window remembers keys for ttl, holding at most maxSize of them. Keys are
// kept in arrival order so the oldest can be expired or evicted from the front.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New returns a window keeping keys for ttl, capped at maxSize entries.
func New(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	w := &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// First records key and reports whether this is its first sighting inside
// the window. A repeat does not extend the key's lifetime.
func (w *Window) First(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expire(now)

	if _, ok := w.index[key]; ok {
		return false
	}
	if w.order.Len() >= w.maxSize {
		w.remove(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, at: now})
	return true
}

// Contains reports whether key was seen inside the window.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(w.now())
	_, ok := w.index[key]
	return ok
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(w.now())
	return w.order.Len()
}

// expire drops entries older than ttl. Must hold mu.
func (w *Window) expire(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		e, _ := el.Value.(*entry)
		if now.Sub(e.at) < w.ttl {
			return
		}
		w.remove(el)
	}
}

func (w *Window) remove(el *list.Element) {
	e, _ := el.Value.(*entry)
	w.order.Remove(el)
	delete(w.index, e.key)
}

// Package rate provides a bounded-memory per-key attempt limiter used to
// throttle interactive login attempts per client address.
package rate

import (
	"container/list"
	"sync"
	"time"
)

// Limiter counts events per key over a sliding window and rejects keys that
// exceed the configured maximum. Key cardinality is bounded by LRU eviction
// so a burst of unique addresses cannot grow memory without limit.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	cap     int
	items   map[string]*list.Element
	lru     *list.List
	nowFunc func() time.Time // for tests
}

type entry struct {
	key    string
	stamps []time.Time
}

// NewLimiter allows up to max events per key within window. Capacity
// defaults to 10k tracked keys.
func NewLimiter(max int, window time.Duration) *Limiter {
	return NewLimiterWithCapacity(max, window, 10_000)
}

func NewLimiterWithCapacity(max int, window time.Duration, capacity int) *Limiter {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Limiter{
		max:     max,
		window:  window,
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: time.Now,
	}
}

// Allow records one event for key and reports whether the key is still
// within its quota.
func (l *Limiter) Allow(key string) bool {
	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		if l.lru.Len() >= l.cap {
			back := l.lru.Back()
			if back != nil {
				old := back.Value.(*entry)
				delete(l.items, old.key)
				l.lru.Remove(back)
			}
		}
		en := &entry{key: key, stamps: []time.Time{now}}
		l.items[key] = l.lru.PushFront(en)
		return true
	}

	en := el.Value.(*entry)
	// Drop stamps outside the window.
	keep := en.stamps[:0]
	for _, t := range en.stamps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	en.stamps = keep
	l.lru.MoveToFront(el)

	if len(en.stamps) >= l.max {
		return false
	}
	en.stamps = append(en.stamps, now)
	return true
}

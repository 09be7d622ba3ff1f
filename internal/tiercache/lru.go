package tiercache

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached value. inserted/lastAccess/expires are kept per tier.
type entry[V any] struct {
	key        string
	val        V
	inserted   time.Time
	lastAccess time.Time
	expires    time.Time
	hits       []time.Time // warm-tier hits inside the promotion window
}

// lru is a capacity-bounded, TTL-aware LRU list guarded by its own mutex so
// the hot and warm tiers never contend with each other.
type lru[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

func newLRU[V any](capacity int, ttl time.Duration) *lru[V] {
	return &lru[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the live value for key and reports whether an expired entry
// was dropped. fn runs under the lock for per-entry bookkeeping.
func (c *lru[V]) get(key string, now time.Time, fn func(e *entry[V])) (V, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false, false
	}
	e := el.Value.(*entry[V])
	if !now.Before(e.expires) {
		c.removeElement(el)
		return zero, false, true
	}
	e.lastAccess = now
	c.order.MoveToFront(el)
	if fn != nil {
		fn(e)
	}
	return e.val, true, false
}

// peek reads without touching LRU order or access time.
func (c *lru[V]) peek(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !now.Before(e.expires) {
		return zero, false
	}
	return e.val, true
}

// put inserts or replaces key and returns how many entries were evicted to
// make room.
func (c *lru[V]) put(key string, val V, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.val = val
		e.inserted = now
		e.lastAccess = now
		e.expires = now.Add(c.ttl)
		e.hits = e.hits[:0]
		c.order.MoveToFront(el)
		return 0
	}

	evicted := 0
	for c.order.Len() >= c.capacity && c.order.Len() > 0 {
		c.removeElement(c.order.Back())
		evicted++
	}

	e := &entry[V]{key: key, val: val, inserted: now, lastAccess: now, expires: now.Add(c.ttl)}
	c.items[key] = c.order.PushFront(e)
	return evicted
}

// update replaces the value of an existing key without changing its TTL.
func (c *lru[V]) update(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[V]).val = val
	}
}

func (c *lru[V]) remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

func (c *lru[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}

// sweep drops every expired entry and returns how many were removed.
func (c *lru[V]) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry[V]).expires) {
			c.removeElement(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *lru[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lru[V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

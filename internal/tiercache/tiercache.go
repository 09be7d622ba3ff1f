// Package tiercache is a two-tier in-memory cache with TTL expiry, LRU
// eviction, hit-count promotion from the warm to the hot tier and per-key
// request coalescing for expensive loads.
//
// Lookup order is hot, then warm. New values land in warm; a key hit in warm
// PromotionThreshold times within PromotionWindow is copied into hot. Expired
// entries are dropped lazily on access and by a periodic sweep.
package tiercache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Tier identifies a cache level.
type Tier uint8

const (
	TierWarm Tier = iota
	TierHot
)

func (t Tier) String() string {
	if t == TierHot {
		return "hot"
	}
	return "warm"
}

// Config sizes the tiers. Zero fields take the defaults below.
type Config struct {
	Name               string
	HotCapacity        int           // default 256
	HotTTL             time.Duration // default 5m
	WarmCapacity       int           // default 10000
	WarmTTL            time.Duration // default 1h
	PromotionThreshold int           // default 3; negative disables promotion
	PromotionWindow    time.Duration // default 1m
	SweepInterval      time.Duration // default 30s
	Now                func() time.Time
	Logger             zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.HotCapacity <= 0 {
		c.HotCapacity = 256
	}
	if c.HotTTL <= 0 {
		c.HotTTL = 5 * time.Minute
	}
	if c.WarmCapacity <= 0 {
		c.WarmCapacity = 10000
	}
	if c.WarmTTL <= 0 {
		c.WarmTTL = time.Hour
	}
	if c.PromotionThreshold == 0 {
		c.PromotionThreshold = 3
	}
	if c.PromotionWindow <= 0 {
		c.PromotionWindow = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	HotSize    int     `json:"hot_size"`
	WarmSize   int     `json:"warm_size"`
	Hits       uint64  `json:"hits"`
	HotHits    uint64  `json:"hot_hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	Promotions uint64  `json:"promotions"`
	Evictions  uint64  `json:"evictions"`
	Expired    uint64  `json:"expired"`
	Loads      uint64  `json:"loads"`
	Coalesced  uint64  `json:"coalesced"` // callers served by a load shared with others
}

// Manager is a two-tier cache of V values keyed by fingerprint.
type Manager[V any] struct {
	cfg  Config
	hot  *lru[V]
	warm *lru[V]
	log  zerolog.Logger

	flights singleflight.Group

	hits       uint64
	hotHits    uint64
	misses     uint64
	promotions uint64
	evictions  uint64
	expired    uint64
	loads      uint64
	coalesced  uint64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a manager. Call Start to run the periodic sweep.
func New[V any](cfg Config) *Manager[V] {
	cfg.applyDefaults()
	return &Manager[V]{
		cfg:  cfg,
		hot:  newLRU[V](cfg.HotCapacity, cfg.HotTTL),
		warm: newLRU[V](cfg.WarmCapacity, cfg.WarmTTL),
		log:  cfg.Logger.With().Str("cache", cfg.Name).Logger(),
	}
}

// Get looks up key in hot then warm.
func (m *Manager[V]) Get(key string) (V, bool) {
	v, _, ok := m.lookup(key)
	return v, ok
}

// GetTier is Get that also reports which tier served the hit.
func (m *Manager[V]) GetTier(key string) (V, Tier, bool) {
	return m.lookup(key)
}

func (m *Manager[V]) lookup(key string) (V, Tier, bool) {
	now := m.cfg.Now()

	v, ok, expired := m.hot.get(key, now, nil)
	if expired {
		atomic.AddUint64(&m.expired, 1)
	}
	if ok {
		atomic.AddUint64(&m.hits, 1)
		atomic.AddUint64(&m.hotHits, 1)
		return v, TierHot, true
	}

	promote := false
	v, ok, expired = m.warm.get(key, now, func(e *entry[V]) {
		if m.cfg.PromotionThreshold < 0 {
			return
		}
		cutoff := now.Add(-m.cfg.PromotionWindow)
		kept := e.hits[:0]
		for _, t := range e.hits {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		e.hits = append(kept, now)
		if len(e.hits) >= m.cfg.PromotionThreshold {
			promote = true
			e.hits = e.hits[:0]
		}
	})
	if expired {
		atomic.AddUint64(&m.expired, 1)
	}
	if !ok {
		atomic.AddUint64(&m.misses, 1)
		var zero V
		return zero, TierWarm, false
	}

	atomic.AddUint64(&m.hits, 1)
	if promote {
		atomic.AddUint64(&m.evictions, uint64(m.hot.put(key, v, now)))
		atomic.AddUint64(&m.promotions, 1)
		m.log.Debug().Str("key", key).Msg("promoted to hot tier")
	}
	return v, TierWarm, true
}

// Put stores val in the given tier. Writing warm refreshes any hot copy so
// the tiers never disagree on a value.
func (m *Manager[V]) Put(key string, val V, tier Tier) {
	now := m.cfg.Now()
	if tier == TierHot {
		atomic.AddUint64(&m.evictions, uint64(m.hot.put(key, val, now)))
		return
	}
	atomic.AddUint64(&m.evictions, uint64(m.warm.put(key, val, now)))
	m.hot.update(key, val)
}

// Invalidate removes key from both tiers and forgets any in-flight load so
// the next caller starts fresh.
func (m *Manager[V]) Invalidate(key string) {
	m.hot.remove(key)
	m.warm.remove(key)
	m.flights.Forget(key)
}

// Clear empties both tiers.
func (m *Manager[V]) Clear() {
	m.hot.clear()
	m.warm.clear()
}

// Loader computes a missing value.
type Loader[V any] func(ctx context.Context) (V, error)

type loadResult[V any] struct {
	val    V
	cached bool
}

// GetOrLoad returns the cached value for key or runs load exactly once for
// all concurrent callers of the same key. Successful results land in warm.
//
// load runs on a context detached from the caller's cancellation: a caller
// whose ctx ends gets ctx.Err() back while the load keeps going and fills the
// cache for whoever asks next. The bool result reports a cache hit.
func (m *Manager[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	if v, ok := m.Get(key); ok {
		return v, true, nil
	}
	return m.Load(ctx, key, load)
}

// Load is GetOrLoad for a caller that has already missed on key through Get.
// It joins or starts the flight without a second lookup, so one request counts
// one miss.
func (m *Manager[V]) Load(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (any, error) {
		// A flight that finished between our miss and this call already
		// populated the cache.
		if v, ok := m.warm.peek(key, m.cfg.Now()); ok {
			return loadResult[V]{val: v, cached: true}, nil
		}
		atomic.AddUint64(&m.loads, 1)
		v, err := load(detached)
		if err != nil {
			return nil, err
		}
		m.Put(key, v, TierWarm)
		return loadResult[V]{val: v}, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Shared {
			atomic.AddUint64(&m.coalesced, 1)
		}
		if res.Err != nil {
			return zero, false, res.Err
		}
		r := res.Val.(loadResult[V])
		return r.val, r.cached, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// Sweep drops expired entries from both tiers.
func (m *Manager[V]) Sweep() int {
	now := m.cfg.Now()
	n := m.hot.sweep(now) + m.warm.sweep(now)
	atomic.AddUint64(&m.expired, uint64(n))
	return n
}

// Start runs Sweep every SweepInterval until Stop.
func (m *Manager[V]) Start() {
	if m.sweepStop != nil {
		return // already running
	}
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.sweepStop:
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.log.Debug().Int("expired", n).Msg("cache sweep")
				}
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (m *Manager[V]) Stop() {
	if m.sweepStop == nil {
		return
	}
	close(m.sweepStop)
	<-m.sweepDone
	m.sweepStop = nil
	m.sweepDone = nil
}

// Stats returns current counters and tier sizes.
func (m *Manager[V]) Stats() Stats {
	s := Stats{
		HotSize:    m.hot.len(),
		WarmSize:   m.warm.len(),
		Hits:       atomic.LoadUint64(&m.hits),
		HotHits:    atomic.LoadUint64(&m.hotHits),
		Misses:     atomic.LoadUint64(&m.misses),
		Promotions: atomic.LoadUint64(&m.promotions),
		Evictions:  atomic.LoadUint64(&m.evictions),
		Expired:    atomic.LoadUint64(&m.expired),
		Loads:      atomic.LoadUint64(&m.loads),
		Coalesced:  atomic.LoadUint64(&m.coalesced),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

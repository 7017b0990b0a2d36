package mapping

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the per-IMEI LRU+TTL view over a Source, ported from
// DatabaseUnitIOMappingLoader. Two independent expiry mechanisms are
// composed here, matching the two concerns spec §4.4 calls out
// separately:
//
//   - staleness (cache_ttl / change-detection): tracked by hand via
//     cachedAt/maxUpdatedAt, because it triggers a *reload*, not an
//     eviction — the entry is kept (possibly stale) if the reload fails.
//   - inactivity (inactive_cleanup_hours): delegated to
//     patrickmn/go-cache's sliding expiration and janitor, because an
//     inactive entry should simply disappear, which is exactly what
//     go-cache's background eviction does for free.
//
// The hard LRU cap (cache_max_size) is enforced on top with a
// container/list so the least-recently-touched IMEI is evicted first
// on insert overflow, independent of either expiry.
type Cache struct {
	mu sync.Mutex

	source Source
	logger *log.Logger

	ttl              time.Duration
	inactiveWindow   time.Duration
	maxSize          int
	checkDBChanges   bool

	entries map[string]*list.Element // imei -> element holding *entry
	order   *list.List               // front = most recently used

	inactivity *gocache.Cache // sliding-expiration membership set
}

type entry struct {
	imei         string
	mappings     map[uint16][]IoMapping
	cachedAt     time.Time
	lastAccess   time.Time
	maxUpdatedAt time.Time
}

// Config bundles the tuning knobs read from config.MappingCacheConfig.
type Config struct {
	TTL            time.Duration
	InactiveWindow time.Duration
	MaxSize        int
	CheckDBChanges bool
	CleanupEvery   time.Duration
}

// New creates a Cache backed by source.
func New(source Source, cfg Config, logger *log.Logger) *Cache {
	c := &Cache{
		source:         source,
		logger:         logger,
		ttl:            cfg.TTL,
		inactiveWindow: cfg.InactiveWindow,
		maxSize:        cfg.MaxSize,
		checkDBChanges: cfg.CheckDBChanges,
		entries:        make(map[string]*list.Element),
		order:          list.New(),
		inactivity:     gocache.New(cfg.InactiveWindow, cfg.CleanupEvery),
	}
	c.inactivity.OnEvicted(func(imei string, _ any) {
		c.evictIMEI(imei)
	})
	return c
}

// Get returns the mappings for (imei, ioID), force-loading the IMEI on
// first sight and reloading it when stale, per spec §4.4 step 3.
func (c *Cache) Get(ctx context.Context, imei string, ioID uint16) ([]IoMapping, error) {
	c.mu.Lock()
	el, found := c.entries[imei]
	c.mu.Unlock()

	var e *entry
	if found {
		e = el.Value.(*entry)
		if c.isStale(ctx, e) {
			c.reload(ctx, e)
		}
	} else {
		e = c.load(ctx, imei)
	}

	c.touch(imei)
	return e.mappings[ioID], nil
}

func (c *Cache) isStale(ctx context.Context, e *entry) bool {
	c.mu.Lock()
	cachedAt := e.cachedAt
	maxUpdatedAt := e.maxUpdatedAt
	c.mu.Unlock()

	if time.Since(cachedAt) > c.ttl {
		return true
	}
	if !c.checkDBChanges {
		return false
	}

	latest, err := c.source.MaxUpdatedAt(ctx, e.imei)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("WARN mapping: change-detection query failed for %s: %v", e.imei, err)
		}
		return false
	}
	return latest.After(maxUpdatedAt)
}

// reload refreshes e in place. A failed reload keeps the previous
// contents and logs at WARN, per spec §4.4 ("load failures keep the
// previous entry").
func (c *Cache) reload(ctx context.Context, e *entry) {
	rows, err := c.source.Load(ctx, e.imei)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("WARN mapping: reload failed for %s, keeping stale entry: %v", e.imei, err)
		}
		return
	}

	maxUpdated := e.maxUpdatedAt
	grouped := groupByIoID(rows)
	for _, m := range rows {
		if m.UpdatedAt.After(maxUpdated) {
			maxUpdated = m.UpdatedAt
		}
	}

	c.mu.Lock()
	e.mappings = grouped
	e.cachedAt = time.Now()
	e.maxUpdatedAt = maxUpdated
	c.mu.Unlock()
}

// load force-loads an IMEI never seen before; an empty map is cached on
// a miss so a device with no configured mappings doesn't hammer the
// store on every record (spec §4.4: "empty map cached on miss").
func (c *Cache) load(ctx context.Context, imei string) *entry {
	rows, err := c.source.Load(ctx, imei)
	if err != nil && c.logger != nil {
		c.logger.Printf("WARN mapping: initial load failed for %s, caching empty: %v", imei, err)
	}

	var maxUpdated time.Time
	for _, m := range rows {
		if m.UpdatedAt.After(maxUpdated) {
			maxUpdated = m.UpdatedAt
		}
	}

	e := &entry{
		imei:         imei,
		mappings:     groupByIoID(rows),
		cachedAt:     time.Now(),
		lastAccess:   time.Now(),
		maxUpdatedAt: maxUpdated,
	}

	c.mu.Lock()
	el := c.order.PushFront(e)
	c.entries[imei] = el
	c.enforceCapLocked()
	c.mu.Unlock()

	c.inactivity.SetDefault(imei, struct{}{})
	return e
}

// touch marks imei as most-recently-used, matching
// _touch_cache_entry's move_to_end plus timestamp refresh.
func (c *Cache) touch(imei string) {
	c.mu.Lock()
	if el, ok := c.entries[imei]; ok {
		c.order.MoveToFront(el)
		el.Value.(*entry).lastAccess = time.Now()
	}
	c.mu.Unlock()

	c.inactivity.SetDefault(imei, struct{}{})
}

// enforceCapLocked evicts least-recently-used entries until the cache is
// at or under maxSize. Callers must hold c.mu.
func (c *Cache) enforceCapLocked() {
	for c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.entries, e.imei)
	}
}

// evictIMEI removes imei from the LRU structures when go-cache's
// janitor decides it has been inactive too long.
func (c *Cache) evictIMEI(imei string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[imei]; ok {
		c.order.Remove(el)
		delete(c.entries, imei)
	}
}

// Len reports the number of cached IMEIs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func groupByIoID(rows []IoMapping) map[uint16][]IoMapping {
	out := make(map[uint16][]IoMapping)
	for _, m := range rows {
		out[m.IoID] = append(out[m.IoID], m)
	}
	return out
}

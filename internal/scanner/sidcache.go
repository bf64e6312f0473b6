package scanner

import (
	"sync"
	"time"

	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

// sidCacheCapacity bounds the periodic-set announcement cache.
const sidCacheCapacity = 5

type sidRecord struct {
	addr prospector.Addr
	sid  uint8
	seen time.Time
}

// SIDCache remembers periodic-advertising set announcements keyed by source
// address. Some radio stacks report the advertising set in a separate
// extended-scan callback before any legacy payload is observed; the cache
// bridges that gap so the device table can adopt the SID on first ingest.
// Least-recently-announced records are evicted at capacity.
type SIDCache struct {
	mu      sync.Mutex
	records []sidRecord
	now     func() time.Time
}

// NewSIDCache constructs an empty cache.
func NewSIDCache() *SIDCache {
	return &SIDCache{now: time.Now}
}

// Put records an announcement, refreshing an existing record for the same
// address or evicting the oldest when full.
func (c *SIDCache) Put(addr prospector.Addr, sid uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	for i := range c.records {
		if c.records[i].addr == addr {
			c.records[i].sid = sid
			c.records[i].seen = ts
			return
		}
	}

	rec := sidRecord{addr: addr, sid: sid, seen: ts}
	if len(c.records) < sidCacheCapacity {
		c.records = append(c.records, rec)
		return
	}

	oldest := 0
	for i := 1; i < len(c.records); i++ {
		if c.records[i].seen.Before(c.records[oldest].seen) {
			oldest = i
		}
	}
	c.records[oldest] = rec
}

// Get returns the cached SID for an address.
func (c *SIDCache) Get(addr prospector.Addr) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		if c.records[i].addr == addr {
			return c.records[i].sid, true
		}
	}
	return 0, false
}

package query

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	plannerCacheSize = 512
	plannerCacheTTL  = 15 * time.Second
)

type plannerEntry struct {
	value     any
	expiresAt time.Time
}

// Planner is the shared response cache: LRU + TTL, keyed by
// (tool, normalized payload, cache epoch). A bumped epoch changes every
// key, so stale responses simply stop being addressable.
type Planner struct {
	mu    sync.Mutex
	cache *lru.Cache[string, plannerEntry]
	ttl   time.Duration
}

// NewPlanner creates the response cache.
func NewPlanner() *Planner {
	cache, err := lru.New[string, plannerEntry](plannerCacheSize)
	if err != nil {
		// Only reachable with an invalid constant size.
		panic(fmt.Sprintf("planner cache: %v", err))
	}
	return &Planner{cache: cache, ttl: plannerCacheTTL}
}

// cacheKey builds the normalized lookup key. Payloads marshal with sorted
// struct field order by construction, so identical requests normalize to
// identical keys.
func (p *Planner) cacheKey(tool string, payload any, epoch int64) string {
	normalized, err := json.Marshal(payload)
	if err != nil {
		normalized = []byte(fmt.Sprintf("%v", payload))
	}
	return fmt.Sprintf("%s:%d:%s", tool, epoch, normalized)
}

// lookup returns a live cached response, if any.
func (p *Planner) lookup(tool string, payload any, epoch int64) (any, bool) {
	key := p.cacheKey(tool, payload, epoch)
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		p.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// save stores a computed response.
func (p *Planner) save(tool string, payload any, epoch int64, value any) {
	key := p.cacheKey(tool, payload, epoch)
	p.mu.Lock()
	p.cache.Add(key, plannerEntry{value: value, expiresAt: time.Now().Add(p.ttl)})
	p.mu.Unlock()
}

// Purge drops every cached response.
func (p *Planner) Purge() {
	p.mu.Lock()
	p.cache.Purge()
	p.mu.Unlock()
}

// Len reports the live entry count.
func (p *Planner) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

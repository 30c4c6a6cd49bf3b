package goals

import (
	"sync"
	"time"
)

// RulesCache caches the active-rule list so an evaluation pass does not hit
// the rule store on every trigger. Implementations must be safe for
// concurrent use.
type RulesCache interface {
	// Get returns cached rules, or nil on miss/expiry.
	Get() []*GoalRule

	Set(rules []*GoalRule)

	// Invalidate clears the cache, forcing a refresh on next Get.
	Invalidate()
}

// CacheConfig holds cache behavior knobs. A zero TTL means entries live
// until invalidated by a rule mutation.
type CacheConfig struct {
	TTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryRulesCache is the default single-process RulesCache.
type InMemoryRulesCache struct {
	rules    []*GoalRule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	mu       sync.RWMutex
}

func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

func (c *InMemoryRulesCache) Get() []*GoalRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Copy so callers cannot reorder the cached slice.
	out := make([]*GoalRule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *InMemoryRulesCache) Set(rules []*GoalRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*GoalRule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}

package cache

import (
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/seglab/cohort/internal/rules"
)

// PredicateCache keeps compiled segment predicates in memory so the
// resolver does not recompile an unchanged rule set on every resolution.
// Entries key on segment name plus its update timestamp, so a rule edit
// naturally misses and the stale entry ages out by TTL.
type PredicateCache struct {
	store otter.Cache[string, *rules.Predicate]
}

// NewPredicateCache initializes the cache with a hard item cap and TTL.
func NewPredicateCache(capacity int, ttl time.Duration) (*PredicateCache, error) {
	cache, err := otter.MustBuilder[string, *rules.Predicate](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &PredicateCache{store: cache}, nil
}

// Key builds the cache key for a segment revision.
func (c *PredicateCache) Key(segment string, updatedAt time.Time) string {
	return fmt.Sprintf("%s@%d", segment, updatedAt.UnixNano())
}

// Get retrieves a compiled predicate.
func (c *PredicateCache) Get(key string) (*rules.Predicate, bool) {
	return c.store.Get(key)
}

// Set stores a compiled predicate.
func (c *PredicateCache) Set(key string, pred *rules.Predicate) {
	c.store.Set(key, pred)
}

// Close shuts down the cache and its background cleanup goroutines.
func (c *PredicateCache) Close() {
	c.store.Close()
}

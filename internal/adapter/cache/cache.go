// Package cache holds the writer's identity caches. Entries are advisory: a
// miss always falls back to the store, so eviction only costs a round trip.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Identity is a size-bounded LRU cache from a natural key to a persisted record.
type Identity[V any] struct {
	name   string
	lru    *lru.Cache[string, V]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewIdentity creates a cache holding at most size entries. name labels the
// hit and miss counters.
func NewIdentity[V any](name string, size int, hits, misses *prometheus.CounterVec) (*Identity[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", name, err)
	}
	return &Identity[V]{
		name:   name,
		lru:    c,
		hits:   hits.WithLabelValues(name),
		misses: misses.WithLabelValues(name),
	}, nil
}

func (c *Identity[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return v, ok
}

// Add stores v under key, evicting the least recently used entry when full.
func (c *Identity[V]) Add(key string, v V) {
	c.lru.Add(key, v)
}

func (c *Identity[V]) Len() int {
	return c.lru.Len()
}

func (c *Identity[V]) Name() string {
	return c.name
}

// Package cache memoizes per-entity quantification results.
// The cache is only a speed optimisation: a miss means recompute.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Level is the aggregation level of a cached entity
type Level uint8

const (
	Spectrum Level = iota
	Peptide
	Protein
)

func (l Level) String() string {
	switch l {
	case Spectrum:
		return "spectrum"
	case Peptide:
		return "peptide"
	case Protein:
		return "protein"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// Key identifies an entity. Children is the number of child entities that
// fed the result, so a protein that gains a peptide misses the cache.
type Key struct {
	Level    Level
	ID       string
	Children int
}

// Cache is a bounded LRU cache safe for concurrent use
type Cache[V any] struct {
	lru      *lru.Cache[Key, V]
	resizing atomic.Bool
}

// New returns a cache holding at most size entries
func New[V any](size int) (*Cache[V], error) {
	l, err := lru.New[Key, V](size)
	if err != nil {
		return nil, fmt.Errorf("cache of size %d: %w", size, err)
	}
	return &Cache[V]{lru: l}, nil
}

// Get returns the cached value of key
func (c *Cache[V]) Get(key Key) (V, bool) {
	return c.lru.Get(key)
}

// Add stores a value. It is a no-op while the cache is being resized.
func (c *Cache[V]) Add(key Key, value V) {
	if c.resizing.Load() {
		return
	}
	c.lru.Add(key, value)
}

// Resize changes the capacity and returns the number of evicted entries
func (c *Cache[V]) Resize(size int) int {
	c.resizing.Store(true)
	defer c.resizing.Store(false)
	return c.lru.Resize(size)
}

// Len returns the number of cached entries
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge removes all entries
func (c *Cache[V]) Purge() {
	c.resizing.Store(true)
	defer c.resizing.Store(false)
	c.lru.Purge()
}

package ui

import (
	"hash/fnv"
	"sync"
)

// RenderCache is a bounded hash-keyed cache of rendered output. When full,
// the oldest entry is evicted.
type RenderCache struct {
	mu      sync.Mutex
	entries map[uint64]string
	order   []uint64
	maxSize int
	hits    int
	misses  int
}

// NewRenderCache creates a cache holding at most maxSize entries.
func NewRenderCache(maxSize int) *RenderCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &RenderCache{
		entries: make(map[uint64]string, maxSize),
		maxSize: maxSize,
	}
}

// ComputeKey hashes strings, ints and bools into a cache key.
// Each input is length- or type-delimited so ("ab","c") != ("a","bc").
func ComputeKey(inputs ...interface{}) uint64 {
	h := fnv.New64a()
	var b [8]byte
	putUint := func(u uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(u >> (8 * i))
		}
		h.Write(b[:])
	}

	for _, input := range inputs {
		switch v := input.(type) {
		case string:
			putUint(uint64(len(v)))
			h.Write([]byte(v))
		case int:
			h.Write([]byte{'i'})
			putUint(uint64(v))
		case bool:
			if v {
				h.Write([]byte{'b', 1})
			} else {
				h.Write([]byte{'b', 0})
			}
		}
	}
	return h.Sum64()
}

// Get retrieves cached content if available.
func (rc *RenderCache) Get(key uint64) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	content, ok := rc.entries[key]
	if ok {
		rc.hits++
	} else {
		rc.misses++
	}
	return content, ok
}

// Set stores rendered content in the cache.
func (rc *RenderCache) Set(key uint64, content string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.entries[key]; !exists {
		if len(rc.order) >= rc.maxSize {
			oldest := rc.order[0]
			rc.order = rc.order[1:]
			delete(rc.entries, oldest)
		}
		rc.order = append(rc.order, key)
	}
	rc.entries[key] = content
}

// GetOrCompute retrieves from cache or computes if missing.
func (rc *RenderCache) GetOrCompute(key uint64, compute func() string) string {
	if content, ok := rc.Get(key); ok {
		return content
	}
	content := compute()
	rc.Set(key, content)
	return content
}

// Clear empties the cache.
func (rc *RenderCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[uint64]string, rc.maxSize)
	rc.order = nil
}

// Len returns the number of cached entries.
func (rc *RenderCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// Stats returns hit and miss counts.
func (rc *RenderCache) Stats() (hits, misses int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.hits, rc.misses
}

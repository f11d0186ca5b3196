// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync"
	"time"
)

// CacheEntry represents a cached value with expiration
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry[T]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTLCache is a thread-safe string-keyed cache whose entries expire after a
// fixed TTL.
type TTLCache[T any] struct {
	entries map[string]*CacheEntry[T]
	ttl     time.Duration
	mu      sync.RWMutex
	stats   CacheStats
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
	mu           sync.Mutex
}

// NewTTLCache creates a cache with the given TTL (default 5m).
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TTLCache[T]{
		entries: make(map[string]*CacheEntry[T]),
		ttl:     ttl,
	}
}

// Get returns the live entry for key.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpired() {
		c.recordMiss()
		var zero T
		return zero, false
	}

	c.recordHit()
	return entry.Value, true
}

// Set stores value under key for one TTL.
func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &CacheEntry[T]{
		Value:      value,
		ExpiresAt:  now.Add(c.ttl),
		LastUpdate: now,
	}
}

// Invalidate drops key.
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.recordEvictions(1)
}

// InvalidateAll clears every entry.
func (c *TTLCache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry[T])
	c.mu.Unlock()
	c.recordEvictions(1)
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *TTLCache[T]) Cleanup() int {
	c.mu.Lock()
	evicted := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		c.recordEvictions(evicted)
	}
	return evicted
}

// GetStats returns cache performance statistics
func (c *TTLCache[T]) GetStats() CacheStats {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	// Return a copy of stats values to avoid copying the mutex
	return CacheStats{
		Hits:         c.stats.Hits,
		Misses:       c.stats.Misses,
		Evictions:    c.stats.Evictions,
		LastEviction: c.stats.LastEviction,
	}
}

// HitRate returns the cache hit rate as a percentage (0-100)
func (c *TTLCache[T]) HitRate() float64 {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total) * 100
}

func (c *TTLCache[T]) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

func (c *TTLCache[T]) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

func (c *TTLCache[T]) recordEvictions(n int) {
	c.stats.mu.Lock()
	c.stats.Evictions += int64(n)
	c.stats.LastEviction = time.Now()
	c.stats.mu.Unlock()
}

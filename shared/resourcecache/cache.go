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

package resourcecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"axonflow/tabula/shared/keyedlock"
	"axonflow/tabula/shared/tracing"
)

// ErrClosed is returned by GetOrCreate after Close.
var ErrClosed = errors.New("resource cache closed")

// Factory builds the resource for key. It may be slow and may fail; a failed
// call leaves no entry behind.
type Factory[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Observer receives one callback per factory invocation.
type Observer interface {
	ObserveCreate(cache string, duration time.Duration, err error)
}

// Cache maps keys to expensive, reusable handles such as database pools or
// agent executors.
//
// Creation is at most once per key: concurrent first callers for the same
// key serialize on that key's lock and all but the first find the entry on
// the re-check. Callers for different keys never wait on each other. Entries
// are never evicted; Remove is the only way an entry goes away.
type Cache[K comparable, V any] struct {
	name     string
	locks    *keyedlock.Registry[K]
	closer   func(K, V) error
	observer Observer

	mu      sync.RWMutex
	entries map[K]V
	closed  bool
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithCloser sets the function used to release entries on Remove and Close.
func WithCloser[K comparable, V any](fn func(K, V) error) Option[K, V] {
	return func(c *Cache[K, V]) { c.closer = fn }
}

// WithObserver reports factory invocations, e.g. to Prometheus.
func WithObserver[K comparable, V any](o Observer) Option[K, V] {
	return func(c *Cache[K, V]) { c.observer = o }
}

// New creates an empty cache. name labels spans and observations.
func New[K comparable, V any](name string, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:    name,
		locks:   keyedlock.New[K](),
		entries: make(map[K]V),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cache label.
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Get returns the cached handle for key without creating it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// GetOrCreate returns the handle for key, invoking factory if there is none.
func (c *Cache[K, V]) GetOrCreate(ctx context.Context, key K, factory Factory[K, V]) (V, error) {
	var zero V

	if v, ok := c.Get(key); ok {
		return v, nil
	}

	lock := c.locks.For(key)
	if err := lock.LockContext(ctx); err != nil {
		return zero, err
	}
	defer lock.Unlock()

	// Another caller may have published while we waited.
	c.mu.RLock()
	v, ok := c.entries[key]
	closed := c.closed
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	if closed {
		return zero, ErrClosed
	}

	v, err := c.create(ctx, key, factory)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.release(key, v)
		return zero, ErrClosed
	}
	c.entries[key] = v
	c.mu.Unlock()

	return v, nil
}

func (c *Cache[K, V]) create(ctx context.Context, key K, factory Factory[K, V]) (V, error) {
	ctx, span := tracing.Start(ctx, "resourcecache.create",
		attribute.String("cache.name", c.name),
		attribute.String("cache.key", fmt.Sprint(key)),
	)
	start := time.Now()
	v, err := factory(ctx, key)
	if c.observer != nil {
		c.observer.ObserveCreate(c.name, time.Since(start), err)
	}
	tracing.End(span, err)
	return v, err
}

// Remove drops the entry for key and releases it with the closer. It waits
// for an in-flight creation for the same key to finish first.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	lock := c.locks.For(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	v, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		_ = c.release(key, v)
	}
	return v, ok
}

// RemoveIf drops and releases the entry for key only when match accepts the
// current value. A caller holding a stale handle cannot evict its
// replacement.
func (c *Cache[K, V]) RemoveIf(key K, match func(V) bool) bool {
	lock := c.locks.For(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	v, ok := c.entries[key]
	if !ok || !match(v) {
		c.mu.Unlock()
		return false
	}
	delete(c.entries, key)
	c.mu.Unlock()

	_ = c.release(key, v)
	return true
}

func (c *Cache[K, V]) release(key K, v V) error {
	if c.closer == nil {
		return nil
	}
	return c.closer(key, v)
}

// Len reports the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close releases every entry and rejects further creation. Creations already
// running finish and are released immediately.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[K]V)
	c.mu.Unlock()

	var errs []error
	for k, v := range entries {
		if err := c.release(k, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: close %v: %w", c.name, k, err))
		}
	}
	return errors.Join(errs...)
}

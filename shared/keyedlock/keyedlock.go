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

package keyedlock

import (
	"context"
	"sync"
)

// Lock is a mutual-exclusion lock that can also be acquired under a context.
// The zero value is not usable; locks are handed out by a Registry.
type Lock struct {
	ch chan struct{}
}

func newLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held.
func (l *Lock) Lock() {
	l.ch <- struct{}{}
}

// LockContext blocks until the lock is held or ctx is done.
func (l *Lock) LockContext(ctx context.Context) error {
	// A free lock wins over a done context.
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
	}

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock. Unlocking a free lock panics, like sync.Mutex.
func (l *Lock) Unlock() {
	select {
	case <-l.ch:
	default:
		panic("keyedlock: unlock of unlocked lock")
	}
}

// Registry hands out one Lock per key.
//
// The registry guard is held only while the lock map is read or extended,
// never while a returned lock is in use, so work on distinct keys proceeds
// independently. Entries are never removed: the registry grows by one lock
// per distinct key for its lifetime, which is fine for bounded key sets
// such as project ids.
type Registry[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*Lock
}

// New creates an empty registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{locks: make(map[K]*Lock)}
}

// For returns the lock for key, creating it on first use. Concurrent first
// calls for the same key always observe the same *Lock.
func (r *Registry[K]) For(key K) *Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = newLock()
		r.locks[key] = l
	}
	return l
}

// Do runs fn while holding the lock for key. It returns ctx.Err() without
// running fn if the lock could not be acquired before ctx was done.
func (r *Registry[K]) Do(ctx context.Context, key K, fn func() error) error {
	l := r.For(key)
	if err := l.LockContext(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}

// Len reports how many keys have a lock.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

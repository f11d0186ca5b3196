// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package resourcecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type handle struct {
	key    string
	serial int64
	closed atomic.Bool
}

func slowFactory(calls *int64, delay time.Duration) Factory[string, *handle] {
	return func(ctx context.Context, key string) (*handle, error) {
		n := atomic.AddInt64(calls, 1)
		time.Sleep(delay)
		return &handle{key: key, serial: n}, nil
	}
}

func TestGetOrCreate_AtMostOneCreationPerKey(t *testing.T) {
	c := New[string, *handle]("test")
	var calls int64

	const callers = 32
	results := make([]*handle, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			h, err := c.GetOrCreate(ctx, "acme", slowFactory(&calls, 50*time.Millisecond))
			results[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "factory must run exactly once")
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, c.Len())
}

func TestGetOrCreate_IndependentKeysDoNotBlock(t *testing.T) {
	c := New[string, *handle]("test")
	var calls int64
	const delay = 200 * time.Millisecond

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for _, key := range []string{"acme", "globex"} {
		key := key
		g.Go(func() error {
			_, err := c.GetOrCreate(ctx, key, slowFactory(&calls, delay))
			return err
		})
	}
	require.NoError(t, g.Wait())
	elapsed := time.Since(start)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	// Serialized creation would take at least 2*delay.
	assert.Less(t, elapsed, 2*delay-20*time.Millisecond, "distinct keys were serialized: %v", elapsed)
}

func TestGetOrCreate_FailureDoesNotPoison(t *testing.T) {
	c := New[string, *handle]("test")
	boom := errors.New("connection refused")
	var calls int64

	_, err := c.GetOrCreate(context.Background(), "acme", func(ctx context.Context, key string) (*handle, error) {
		atomic.AddInt64(&calls, 1)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("acme")
	assert.False(t, ok, "failed creation must not leave an entry")
	assert.Equal(t, 0, c.Len())

	h, err := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "factory should run again from scratch")
	assert.Equal(t, "acme", h.key)
}

func TestGetOrCreate_WaitersSeeFailureThenRetry(t *testing.T) {
	c := New[string, *handle]("test")
	var calls int64
	release := make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(context.Background(), "acme", func(ctx context.Context, key string) (*handle, error) {
			atomic.AddInt64(&calls, 1)
			<-release
			return nil, errors.New("database unavailable")
		})
		first <- err
	}()

	// Wait until the first factory is running.
	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) == 1 }, time.Second, time.Millisecond)

	second := make(chan *handle, 1)
	go func() {
		h, _ := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
		second <- h
	}()

	close(release)
	assert.Error(t, <-first)
	h := <-second
	require.NotNil(t, h)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestGetOrCreate_ContextCancelledWhileWaiting(t *testing.T) {
	c := New[string, *handle]("test")
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = c.GetOrCreate(context.Background(), "acme", func(ctx context.Context, key string) (*handle, error) {
			close(started)
			<-release
			return &handle{key: key}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCreate(ctx, "acme", func(ctx context.Context, key string) (*handle, error) {
		t.Error("factory must not run for a cancelled waiter")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestRemove_ReleasesAndAllowsRecreate(t *testing.T) {
	c := New[string, *handle]("test", WithCloser(func(_ string, h *handle) error {
		h.closed.Store(true)
		return nil
	}))
	var calls int64

	h1, err := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	require.NoError(t, err)

	removed, ok := c.Remove("acme")
	require.True(t, ok)
	assert.Same(t, h1, removed)
	assert.True(t, h1.closed.Load())

	h2, err := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)

	_, ok = c.Remove("missing")
	assert.False(t, ok)
}

func TestRemoveIf_IgnoresReplacedEntry(t *testing.T) {
	c := New[string, *handle]("test", WithCloser(func(_ string, h *handle) error {
		h.closed.Store(true)
		return nil
	}))
	var calls int64

	stale, err := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	require.NoError(t, err)
	require.True(t, c.RemoveIf("acme", func(cur *handle) bool { return cur == stale }))
	assert.True(t, stale.closed.Load())

	fresh, err := c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	require.NoError(t, err)

	assert.False(t, c.RemoveIf("acme", func(cur *handle) bool { return cur == stale }))
	got, ok := c.Get("acme")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.False(t, fresh.closed.Load())

	assert.False(t, c.RemoveIf("missing", func(*handle) bool { return true }))
}

func TestClose_ReleasesAllAndRejectsCreation(t *testing.T) {
	var mu sync.Mutex
	var closedKeys []string
	c := New[string, *handle]("test", WithCloser(func(k string, h *handle) error {
		mu.Lock()
		defer mu.Unlock()
		closedKeys = append(closedKeys, k)
		if k == "bad" {
			return errors.New("close failed")
		}
		return nil
	}))
	var calls int64

	for _, k := range []string{"acme", "globex", "bad"} {
		_, err := c.GetOrCreate(context.Background(), k, slowFactory(&calls, 0))
		require.NoError(t, err)
	}

	err := c.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.ElementsMatch(t, []string{"acme", "globex", "bad"}, closedKeys)
	assert.Equal(t, 0, c.Len())

	_, err = c.GetOrCreate(context.Background(), "initech", slowFactory(&calls, 0))
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, c.Close(), "second Close is a no-op")
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []error
}

func (o *recordingObserver) ObserveCreate(cache string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, err)
}

func TestObserver_SeesEachFactoryInvocation(t *testing.T) {
	obs := &recordingObserver{}
	c := New[string, *handle]("engines", WithObserver[string, *handle](obs))
	var calls int64

	_, _ = c.GetOrCreate(context.Background(), "acme", func(ctx context.Context, key string) (*handle, error) {
		return nil, errors.New("nope")
	})
	_, _ = c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))
	_, _ = c.GetOrCreate(context.Background(), "acme", slowFactory(&calls, 0))

	require.Len(t, obs.calls, 2)
	assert.Error(t, obs.calls[0])
	assert.NoError(t, obs.calls[1])
	assert.Equal(t, "engines", c.Name())
	assert.ElementsMatch(t, []string{"acme"}, c.Keys())
}

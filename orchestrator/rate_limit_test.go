// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"axonflow/tabula/shared/logger"
)

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryRateLimiter(3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "acme"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "acme"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, "globex"); err != nil {
		t.Errorf("other key should have its own window: %v", err)
	}

	now = now.Add(time.Minute + time.Second)
	if err := l.Allow(ctx, "acme"); err != nil {
		t.Errorf("window should have reset: %v", err)
	}
}

func newTestRedisLimiter(t *testing.T, limit int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisRateLimiter(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()), limit, time.Minute, logger.Discard("rate_limit"))
	if err != nil {
		t.Fatalf("NewRedisRateLimiter failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "acme"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "acme"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, "globex"); err != nil {
		t.Errorf("other project should not be limited: %v", err)
	}

	if !mr.Exists("ratelimit:acme") {
		t.Fatal("expected ratelimit:acme key")
	}
	if ttl := mr.TTL("ratelimit:acme"); ttl != 2*time.Minute {
		t.Errorf("expected TTL of two windows, got %s", ttl)
	}
}

func TestRedisRateLimiter_FallsBackWhenRedisDown(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 1)
	mr.Close()
	ctx := context.Background()

	if err := l.Allow(ctx, "acme"); err != nil {
		t.Fatalf("fallback should admit the first request: %v", err)
	}
	if err := l.Allow(ctx, "acme"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("fallback should enforce the limit, got %v", err)
	}
}

func TestNewRedisRateLimiter_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewRedisRateLimiter(ctx, "not a url", 1, time.Minute, nil); err == nil {
		t.Error("expected parse error")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisRateLimiter(ctx, "redis://"+addr, 1, time.Minute, nil); err == nil {
		t.Error("expected connection error")
	}
}

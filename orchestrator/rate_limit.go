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
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/tabula/shared/logger"
)

// ErrRateLimited is returned when a project exceeds its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter admits or rejects one request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// MemoryRateLimiter is a per-process fixed-window limiter.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// NewMemoryRateLimiter allows limit requests per window per key.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Allow counts a request for key.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetTime) {
		l.entries[key] = &rateLimitEntry{count: 1, resetTime: now.Add(l.window)}
		return nil
	}

	entry.count++
	if entry.count > l.limit {
		return fmt.Errorf("%w: %d requests in %s (limit: %d)", ErrRateLimited, entry.count, l.window, l.limit)
	}
	return nil
}

// RedisRateLimiter is a sliding-window limiter shared by all replicas. When
// Redis is unreachable it falls back to a per-process limiter.
type RedisRateLimiter struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	fallback *MemoryRateLimiter
	logger   *logger.Logger
}

// NewRedisRateLimiter connects to redisURL (redis://host:port/db).
func NewRedisRateLimiter(ctx context.Context, redisURL string, limit int, window time.Duration, log *logger.Logger) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = logger.New("rate_limit")
	}
	return &RedisRateLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		fallback: NewMemoryRateLimiter(limit, window),
		logger:   log,
	}, nil
}

// Allow records a request for key and rejects it when the window already
// holds limit requests.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) error {
	now := time.Now()
	redisKey := "ratelimit:" + key

	pipe := l.client.Pipeline()
	// Drop entries that slid out of the window
	minScore := now.Add(-l.window).UnixMilli()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(minScore, 10))
	card := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, redisKey, 2*l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn(key, "", "Redis rate limit check failed, using in-process limiter", map[string]interface{}{"error": err.Error()})
		return l.fallback.Allow(ctx, key)
	}

	// ZCARD ran before this request was added
	if count := card.Val() + 1; count > int64(l.limit) {
		return fmt.Errorf("%w: %d requests in %s (limit: %d)", ErrRateLimited, count, l.window, l.limit)
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}

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

package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"axonflow/tabula/shared/tracing"
)

// RetryPolicy configures bounded exponential backoff.
//
// Attempts are numbered from 1. After a transient failure of attempt n the
// policy sleeps min(MaxInterval, InitialInterval * Multiplier^(n-1)) before
// attempt n+1. Nothing sleeps after the final attempt.
type RetryPolicy struct {
	Name            string           // Label for spans and OnRetry
	MaxAttempts     int              // Total attempts including the first
	InitialInterval time.Duration    // Delay after the first failure
	MaxInterval     time.Duration    // Cap on any single delay
	Multiplier      float64          // Growth factor between delays
	Jitter          float64          // Jitter factor (0-1); 0 keeps delays deterministic
	RetryIf         func(error) bool // Transient classifier; nil uses DefaultRetryCondition

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each sleep.
	OnRetry func(name string, attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Name:            "default",
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		RetryIf:         DefaultRetryCondition,
	}
}

// WithName returns a copy of p labelled name.
func (p *RetryPolicy) WithName(name string) *RetryPolicy {
	cp := *p
	cp.Name = name
	return &cp
}

// WithClassifier returns a copy of p that classifies failures with fn.
func (p *RetryPolicy) WithClassifier(fn func(error) bool) *RetryPolicy {
	cp := *p
	cp.RetryIf = fn
	return &cp
}

// Delay returns the wait after failed attempt n, before jitter.
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialInterval) * math.Pow(mult, float64(n-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

func (p *RetryPolicy) retryable(err error) bool {
	if IsNonRetryable(err) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return DefaultRetryCondition(err)
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DefaultRetryCondition returns true for transient errors
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"broken pipe",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// RetryableError wraps an error to indicate it should be retried
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is marked as retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// GetRetryAfter returns the retry-after duration if specified
func GetRetryAfter(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.RetryAfter
	}
	return 0
}

// NonRetryableError wraps an error to indicate it should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// Permanent marks err as never retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// RetryError indicates all retry attempts failed
type RetryError struct {
	Err      error
	Attempts int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// RetryFunc is the function type that can be retried
type RetryFunc[T any] func(ctx context.Context) (T, error)

// Do runs fn under policy. A permanent failure is returned as is on the
// attempt it happens. Exhausting MaxAttempts on transient failures returns a
// *RetryError wrapping the last one.
func Do[T any](ctx context.Context, policy *RetryPolicy, fn RetryFunc[T]) (T, error) {
	var zero T

	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var prevWait time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := runAttempt(ctx, policy, attempt, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		waitTime := policy.nextWait(attempt, GetRetryAfter(err), prevWait)
		prevWait = waitTime

		if policy.OnRetry != nil {
			policy.OnRetry(policy.Name, attempt, waitTime, err)
		}
		if err := policy.wait(ctx, waitTime); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return zero, &RetryError{
		Err:      lastErr,
		Attempts: maxAttempts,
	}
}

// nextWait is the backoff after failed attempt n. A server hint only raises
// it, and it never drops below prev or exceeds MaxInterval.
func (p *RetryPolicy) nextWait(n int, retryAfter, prev time.Duration) time.Duration {
	wait := max(p.Delay(n), retryAfter)
	if p.Jitter > 0 {
		wait += time.Duration(float64(wait) * p.Jitter * (rand.Float64()*2 - 1))
	}
	wait = max(wait, prev)
	if p.MaxInterval > 0 && wait > p.MaxInterval {
		wait = p.MaxInterval
	}
	return wait
}

func runAttempt[T any](ctx context.Context, policy *RetryPolicy, attempt int, fn RetryFunc[T]) (T, error) {
	ctx, span := tracing.Start(ctx, "retry.attempt",
		attribute.String("retry.name", policy.Name),
		attribute.Int("retry.attempt", attempt),
	)
	result, err := fn(ctx)
	tracing.End(span, err)
	return result, err
}

// DoVoid runs a function without a result under policy.
func DoVoid(ctx context.Context, policy *RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

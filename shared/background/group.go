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

// Package background runs request-detached work that must finish before the
// process exits, such as loading an uploaded file into its table.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"axonflow/tabula/shared/logger"
)

// ErrStopped is returned by Go after Shutdown has begun.
var ErrStopped = errors.New("background group stopped")

// Task is one unit of detached work.
type Task func(ctx context.Context) error

// Observer is told when a task finishes.
type Observer interface {
	ObserveTask(name string, duration time.Duration, err error)
}

// Group tracks in-flight tasks.
type Group struct {
	logger   *logger.Logger
	observer Observer

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
	running atomic.Int64
}

// New creates a Group. observer may be nil.
func New(log *logger.Logger, observer Observer) *Group {
	if log == nil {
		log = logger.New("background")
	}
	return &Group{logger: log, observer: observer}
}

// Go starts task in its own goroutine. The task gets a context that keeps
// ctx's values but is never canceled with it, so work outlives the request
// that scheduled it.
func (g *Group) Go(ctx context.Context, name, projectID string, task Task) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrStopped
	}
	g.wg.Add(1)
	g.mu.Unlock()

	g.running.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.running.Add(-1)
		g.run(context.WithoutCancel(ctx), name, projectID, task)
	}()
	return nil
}

func (g *Group) run(ctx context.Context, name, projectID string, task Task) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if g.observer != nil {
			g.observer.ObserveTask(name, time.Since(start), err)
		}
		if err != nil {
			g.logger.Error(projectID, "", "Background task failed", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
			return
		}
		g.logger.InfoWithDuration(projectID, "", "Background task finished",
			float64(time.Since(start).Milliseconds()), map[string]interface{}{"task": name})
	}()
	err = task(ctx)
}

// Running reports the number of tasks in flight.
func (g *Group) Running() int64 {
	return g.running.Load()
}

// Shutdown rejects new tasks and waits for running ones or for ctx.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d background tasks: %w", g.Running(), ctx.Err())
	}
}

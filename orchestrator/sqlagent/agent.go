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

package sqlagent

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/postgres"
	"axonflow/tabula/connectors/sdk"
	"axonflow/tabula/orchestrator/llm"
	"axonflow/tabula/shared/logger"
	"axonflow/tabula/shared/resourcecache"
)

const (
	defaultRowLimit     = 200
	defaultQueryTimeout = 30 * time.Second
)

// Provisioner hands out per-project database pools.
type Provisioner interface {
	EnsureDatabase(ctx context.Context, projectID string) (*sql.DB, error)
	Engine(projectID string) (*sql.DB, bool)
	AdminDB() string
}

// Options tunes query execution.
type Options struct {
	RowLimit     int
	QueryTimeout time.Duration
	Retry        *sdk.RetryPolicy
	Observer     resourcecache.Observer
	Logger       *logger.Logger
}

// Agent owns one Executor per project.
type Agent struct {
	provisioner Provisioner
	provider    llm.Provider
	executors   *resourcecache.Cache[string, *Executor]
	opts        Options
	logger      *logger.Logger
}

// New creates an Agent. provider should already be wrapped for retries.
func New(provisioner Provisioner, provider llm.Provider, opts Options) *Agent {
	if opts.RowLimit <= 0 {
		opts.RowLimit = defaultRowLimit
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.Retry == nil {
		opts.Retry = sdk.DefaultRetryPolicy()
	}
	opts.Retry = opts.Retry.WithName("sqlagent.query").WithClassifier(postgres.IsTransient)
	if opts.Logger == nil {
		opts.Logger = logger.New("sqlagent")
	}

	var cacheOpts []resourcecache.Option[string, *Executor]
	if opts.Observer != nil {
		cacheOpts = append(cacheOpts, resourcecache.WithObserver[string, *Executor](opts.Observer))
	}
	return &Agent{
		provisioner: provisioner,
		provider:    provider,
		executors:   resourcecache.New[string, *Executor]("sql_executors", cacheOpts...),
		opts:        opts,
		logger:      opts.Logger,
	}
}

// Executor returns the project's executor, building it and the project
// database on first use. An executor whose pool has since been invalidated
// in the provisioner is rebuilt.
func (a *Agent) Executor(ctx context.Context, projectID string) (*Executor, error) {
	if err := base.ValidateProjectID(projectID, a.provisioner.AdminDB()); err != nil {
		return nil, err
	}
	if ex, ok := a.executors.Get(projectID); ok {
		if db, live := a.provisioner.Engine(projectID); live && db == ex.db {
			return ex, nil
		}
		a.executors.RemoveIf(projectID, func(cur *Executor) bool { return cur == ex })
	}
	return a.executors.GetOrCreate(ctx, projectID, a.newExecutor)
}

func (a *Agent) newExecutor(ctx context.Context, projectID string) (*Executor, error) {
	db, err := a.provisioner.EnsureDatabase(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Executor{
		projectID:    projectID,
		db:           db,
		provider:     a.provider,
		retry:        a.opts.Retry,
		rowLimit:     a.opts.RowLimit,
		queryTimeout: a.opts.QueryTimeout,
		logger:       a.logger,
	}, nil
}

// Run answers question over the project's tables.
func (a *Agent) Run(ctx context.Context, projectID, requestID, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	ex, err := a.Executor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return ex.Run(ctx, requestID, question)
}

// Projects lists projects with a cached executor.
func (a *Agent) Projects() []string {
	return a.executors.Keys()
}

// Close drops all executors. Pools belong to the provisioner and stay open.
func (a *Agent) Close() error {
	return a.executors.Close()
}

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question must not be empty")

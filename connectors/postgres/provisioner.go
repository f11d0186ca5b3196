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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lib/pq"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/sdk"
	"axonflow/tabula/shared/resourcecache"
)

const connectorName = "postgres"

// Provisioner lazily creates one database per project and caches a pool for
// each. The zero value is not usable; call NewProvisioner.
type Provisioner struct {
	opts    Options
	engines *resourcecache.Cache[string, *sql.DB]
	retry   *sdk.RetryPolicy
	open    Opener
	logger  *log.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*provisionerConfig)

type provisionerConfig struct {
	retry    *sdk.RetryPolicy
	open     Opener
	observer resourcecache.Observer
	logger   *log.Logger
}

// WithRetryPolicy sets the policy used to open and ping pools.
func WithRetryPolicy(p *sdk.RetryPolicy) ProvisionerOption {
	return func(c *provisionerConfig) { c.retry = p }
}

// WithOpener replaces sql.Open, mainly for tests.
func WithOpener(o Opener) ProvisionerOption {
	return func(c *provisionerConfig) { c.open = o }
}

// WithObserver reports pool creations.
func WithObserver(o resourcecache.Observer) ProvisionerOption {
	return func(c *provisionerConfig) { c.observer = o }
}

// WithLogger replaces the default stdout logger.
func WithLogger(l *log.Logger) ProvisionerOption {
	return func(c *provisionerConfig) { c.logger = l }
}

// NewProvisioner creates a provisioner for the server described by opts.
func NewProvisioner(opts Options, options ...ProvisionerOption) *Provisioner {
	cfg := provisionerConfig{
		retry:  sdk.DefaultRetryPolicy(),
		open:   openPostgres,
		logger: log.New(os.Stdout, "[PG_PROVISIONER] ", log.LstdFlags),
	}
	for _, o := range options {
		o(&cfg)
	}

	cacheOpts := []resourcecache.Option[string, *sql.DB]{
		resourcecache.WithCloser[string, *sql.DB](func(_ string, db *sql.DB) error {
			return db.Close()
		}),
	}
	if cfg.observer != nil {
		cacheOpts = append(cacheOpts, resourcecache.WithObserver[string, *sql.DB](cfg.observer))
	}

	return &Provisioner{
		opts:    opts.withDefaults(),
		engines: resourcecache.New[string, *sql.DB]("postgres_engines", cacheOpts...),
		retry:   cfg.retry.WithClassifier(IsTransient),
		open:    cfg.open,
		logger:  cfg.logger,
	}
}

// AdminDB returns the maintenance database name.
func (p *Provisioner) AdminDB() string {
	return p.opts.AdminDB
}

// EnsureDatabase returns the pool for projectID, creating the database and
// the pool on first use.
func (p *Provisioner) EnsureDatabase(ctx context.Context, projectID string) (*sql.DB, error) {
	if err := base.ValidateProjectID(projectID, p.opts.AdminDB); err != nil {
		return nil, base.NewConnectorError(connectorName, "EnsureDatabase", "rejected project id", err)
	}

	if db, ok := p.engines.Get(projectID); ok {
		p.logger.Printf("Engine for %s already exists.", projectID)
		return db, nil
	}

	return p.engines.GetOrCreate(ctx, projectID, p.provision)
}

// Engine returns the cached pool for projectID without creating anything.
func (p *Provisioner) Engine(projectID string) (*sql.DB, bool) {
	return p.engines.Get(projectID)
}

// Projects lists the projects with a cached pool.
func (p *Provisioner) Projects() []string {
	keys := p.engines.Keys()
	out := keys[:0]
	for _, k := range keys {
		if k != p.opts.AdminDB {
			out = append(out, k)
		}
	}
	return out
}

// Invalidate closes and forgets the pool for projectID. The next
// EnsureDatabase re-creates it.
func (p *Provisioner) Invalidate(projectID string) bool {
	_, ok := p.engines.Remove(projectID)
	if ok {
		p.logger.Printf("Engine for %s invalidated.", projectID)
	}
	return ok
}

// HealthCheck pings the cached pool for projectID and reports the result.
// The pool stays cached either way; database/sql replaces broken
// connections on its own.
func (p *Provisioner) HealthCheck(ctx context.Context, projectID string) (*base.HealthStatus, error) {
	db, ok := p.engines.Get(projectID)
	if !ok {
		return &base.HealthStatus{
			Healthy:   false,
			Timestamp: time.Now(),
			Error:     "database not connected",
		}, nil
	}

	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		p.logger.Printf("Health check for %s failed: %v", projectID, err)
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	stats := db.Stats()
	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Timestamp: time.Now(),
		Details: map[string]string{
			"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
			"in_use":           fmt.Sprintf("%d", stats.InUse),
			"idle":             fmt.Sprintf("%d", stats.Idle),
		},
	}, nil
}

// ProjectsHealthCheck pings every cached project pool. Failed pools are
// listed in Details.
func (p *Provisioner) ProjectsHealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	out := &base.HealthStatus{Healthy: true, Details: map[string]string{}}
	for _, projectID := range p.Projects() {
		status, _ := p.HealthCheck(ctx, projectID)
		if status.Healthy {
			out.Details[projectID] = "ok"
			continue
		}
		out.Healthy = false
		out.Details[projectID] = status.Error
	}
	if !out.Healthy {
		out.Error = "one or more project databases failed the ping"
	}
	out.Latency = time.Since(start)
	out.Timestamp = time.Now()
	return out, nil
}

// AdminHealthCheck opens the admin pool if needed and pings it.
func (p *Provisioner) AdminHealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if _, err := p.adminEngine(ctx); err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}
	return p.HealthCheck(ctx, p.opts.AdminDB)
}

// Close closes every cached pool, the admin pool included.
func (p *Provisioner) Close() error {
	return p.engines.Close()
}

// provision runs under projectID's key lock.
func (p *Provisioner) provision(ctx context.Context, projectID string) (*sql.DB, error) {
	if err := p.createIfMissing(ctx, projectID); err != nil {
		return nil, err
	}
	return p.openEngine(ctx, projectID)
}

func (p *Provisioner) adminEngine(ctx context.Context) (*sql.DB, error) {
	return p.engines.GetOrCreate(ctx, p.opts.AdminDB, p.openEngine)
}

// createIfMissing checks pg_database and issues CREATE DATABASE on a
// dedicated admin connection. CREATE DATABASE cannot run inside a
// transaction block, so the connection stays in autocommit mode.
func (p *Provisioner) createIfMissing(ctx context.Context, projectID string) error {
	admin, err := p.adminEngine(ctx)
	if err != nil {
		return base.NewConnectorError(connectorName, "EnsureDatabase", "admin connection failed", err)
	}

	conn, err := sdk.Do(ctx, p.retry, func(ctx context.Context) (*sql.Conn, error) {
		return admin.Conn(ctx)
	})
	if err != nil {
		return base.NewConnectorError(connectorName, "EnsureDatabase", "admin connection failed", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			p.logger.Printf("Warning: failed to release admin connection: %v", cerr)
		}
	}()

	var exists int
	err = conn.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", projectID).Scan(&exists)
	switch {
	case err == nil:
		p.logger.Printf("Database %s already exists.", projectID)
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		p.logger.Printf("Error checking database %s: %v", projectID, err)
		return base.NewConnectorError(connectorName, "EnsureDatabase", "existence check failed", err)
	}

	if _, err := conn.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(projectID)); err != nil {
		if isDuplicateDatabase(err) {
			p.logger.Printf("Database %s already exists.", projectID)
			return nil
		}
		p.logger.Printf("Error creating database %s: %v", projectID, err)
		return base.NewConnectorError(connectorName, "EnsureDatabase", "create database failed", sdk.Permanent(err))
	}

	p.logger.Printf("Database %s created.", projectID)
	return nil
}

// openEngine opens and pings a pool for dbName, retrying transient failures.
func (p *Provisioner) openEngine(ctx context.Context, dbName string) (*sql.DB, error) {
	dsn := p.opts.DSN(dbName)

	db, err := sdk.Do(ctx, p.retry, func(ctx context.Context) (*sql.DB, error) {
		db, err := p.open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		p.opts.configurePool(db)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to connect to "+dbName, err)
	}

	p.logger.Printf("Connected to PostgreSQL: %s (max_conns=%d)", dbName, p.opts.MaxOpenConns)
	return db, nil
}

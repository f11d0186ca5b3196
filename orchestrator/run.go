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
	"log"
	"net/http"
	"strconv"
	"time"

	"axonflow/tabula/connectors/azureblob"
	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/config"
	"axonflow/tabula/connectors/gcs"
	"axonflow/tabula/connectors/mongodb"
	"axonflow/tabula/connectors/postgres"
	"axonflow/tabula/connectors/s3"
	"axonflow/tabula/orchestrator/images"
	"axonflow/tabula/orchestrator/llm"
	"axonflow/tabula/orchestrator/sqlagent"
	"axonflow/tabula/shared/background"
	"axonflow/tabula/shared/logger"
)

const shutdownTimeout = 30 * time.Second

// App holds the wired service and everything that must be released on
// shutdown.
type App struct {
	Server *Server

	tasks       *background.Group
	agent       *sqlagent.Agent
	provisioner *postgres.Provisioner
	uploads     *mongodb.UploadStore
	store       base.ObjectStore
	limiter     *RedisRateLimiter
}

// Build connects every dependency named in cfg and wires the HTTP server.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics := NewMetricsCollector()
	app := &App{}

	if cfg.Postgres.PasswordSecretARN != "" {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{})
		if err != nil {
			return nil, err
		}
		if err := config.ResolvePostgresPassword(ctx, cfg, sm); err != nil {
			return nil, err
		}
	}

	pgRetry := cfg.Retry.Policy("postgres")
	pgRetry.OnRetry = metrics.OnRetry
	app.provisioner = postgres.NewProvisioner(postgres.Options{
		Host:         cfg.Postgres.Host,
		Port:         strconv.Itoa(cfg.Postgres.Port),
		User:         cfg.Postgres.User,
		Password:     cfg.Postgres.Password,
		AdminDB:      cfg.Postgres.DefaultDB,
		SSLMode:      cfg.Postgres.SSLMode,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
	}, postgres.WithRetryPolicy(pgRetry), postgres.WithObserver(metrics))

	uploads, err := mongodb.Connect(ctx, mongodb.Config{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		AppName:    "tabula",
	})
	if err != nil {
		_ = app.close(ctx)
		return nil, err
	}
	app.uploads = uploads

	store, err := newImageStore(ctx, cfg.Images)
	if err != nil {
		_ = app.close(ctx)
		return nil, err
	}
	app.store = store

	llmRetry := cfg.Retry.Policy("llm")
	llmRetry.OnRetry = metrics.OnRetry
	provider, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		AzureEndpoint:   cfg.LLM.AzureEndpoint,
		AzureDeployment: cfg.LLM.AzureDeployment,
		AzureAPIVersion: cfg.LLM.AzureAPIVersion,
		Retry:           llmRetry,
	})
	if err != nil {
		_ = app.close(ctx)
		return nil, err
	}
	provider = metrics.InstrumentProvider(provider)

	app.tasks = background.New(logger.New("background"), metrics)

	queryRetry := cfg.Retry.Policy("sqlagent")
	queryRetry.OnRetry = metrics.OnRetry
	app.agent = sqlagent.New(app.provisioner, provider, sqlagent.Options{
		RowLimit:     cfg.SQLAgent.RowLimit,
		QueryTimeout: cfg.SQLAgent.QueryTimeout,
		Retry:        queryRetry,
		Observer:     metrics,
		Logger:       logger.New("sqlagent"),
	})

	var limiter RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = NewMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if cfg.Redis.URL != "" {
			redisLimiter, err := NewRedisRateLimiter(ctx, cfg.Redis.URL, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger.New("rate_limit"))
			if err != nil {
				log.Printf("WARNING: Redis unavailable, using in-process rate limiting: %v", err)
			} else {
				app.limiter = redisLimiter
				limiter = redisLimiter
			}
		}
	}

	metrics.TrackGauge("tabula_postgres_engines", "Cached Postgres project pools", func() float64 {
		return float64(len(app.provisioner.Projects()))
	})
	metrics.TrackGauge("tabula_sql_executors", "Cached SQL agent executors", func() float64 {
		return float64(len(app.agent.Projects()))
	})
	metrics.TrackGauge("tabula_background_tasks_running", "Background tasks in flight", func() float64 {
		return float64(app.tasks.Running())
	})

	app.Server = NewServer(ServerDeps{
		Tables:  NewTableService(uploads, app.provisioner, cfg.Postgres.DefaultDB, app.tasks, logger.New("tables")),
		Agent:   app.agent,
		Images:  images.NewService(store, provider, app.tasks, cfg.Images.URLTTL, logger.New("images")),
		Limiter: limiter,
		Auth:    NewAuthenticator(cfg.Auth.JWTSecret),
		Metrics: metrics,
		Health: map[string]HealthChecker{
			"postgres":          HealthCheckFunc(app.provisioner.AdminHealthCheck),
			"project_databases": HealthCheckFunc(app.provisioner.ProjectsHealthCheck),
			"mongodb":           uploads,
			"images":            store,
		},
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.New("orchestrator"),
	})
	return app, nil
}

func newImageStore(ctx context.Context, cfg config.Images) (base.ObjectStore, error) {
	switch cfg.Store {
	case config.ImageStoreAzure:
		return azureblob.New(ctx, azureblob.Config{
			AccountName:        cfg.Azure.AccountName,
			AccountKey:         cfg.Azure.AccountKey,
			ConnectionString:   cfg.Azure.ConnectionString,
			UseManagedIdentity: cfg.Azure.UseManagedIdentity,
			ServiceURL:         cfg.Azure.ServiceURL,
			Container:          cfg.Azure.Container,
			CreateContainer:    true,
		})
	case config.ImageStoreS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case config.ImageStoreGCS:
		return gcs.New(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
		})
	}
	return nil, fmt.Errorf("unknown image store %q", cfg.Store)
}

// Close waits for background tasks, then releases executors, pools and
// client connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.tasks != nil {
		if err := a.tasks.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.close(ctx))
	return errors.Join(errs...)
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.agent != nil {
		errs = append(errs, a.agent.Close())
	}
	if a.provisioner != nil {
		errs = append(errs, a.provisioner.Close())
	}
	if a.uploads != nil {
		errs = append(errs, a.uploads.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	return errors.Join(errs...)
}

// Run serves the API on cfg.Port until ctx is canceled, then drains
// in-flight requests and background tasks.
func Run(ctx context.Context, cfg *config.Config) error {
	log.Println("Starting Tabula...")

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Tabula listening on port %d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}

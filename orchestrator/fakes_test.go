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
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/mongodb"
	"axonflow/tabula/orchestrator/images"
	"axonflow/tabula/orchestrator/llm"
	"axonflow/tabula/orchestrator/sqlagent"
	"axonflow/tabula/shared/background"
	"axonflow/tabula/shared/logger"
)

// memUploads is an in-memory UploadStore.
type memUploads struct {
	mu      sync.Mutex
	records map[string]mongodb.Upload
	history map[string][]mongodb.Status
	seq     int
}

func newMemUploads() *memUploads {
	return &memUploads{
		records: make(map[string]mongodb.Upload),
		history: make(map[string][]mongodb.Status),
	}
}

func (m *memUploads) FindByFileName(_ context.Context, projectID, fileName string) (*mongodb.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.records {
		if u.ProjectID == projectID && u.FileName == fileName {
			u := u
			return &u, nil
		}
	}
	return nil, mongodb.ErrUploadNotFound
}

func (m *memUploads) Get(_ context.Context, id string) (*mongodb.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return nil, mongodb.ErrUploadNotFound
	}
	return &u, nil
}

func (m *memUploads) Upsert(_ context.Context, u *mongodb.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Status = mongodb.StatusInProgress
	rec := *u
	if old, ok := m.records[u.ID]; ok {
		rec.CreatedAt = old.CreatedAt
	} else {
		m.seq++
		rec.CreatedAt = time.Unix(int64(m.seq), 0)
	}
	m.records[u.ID] = rec
	m.history[u.ID] = append(m.history[u.ID], mongodb.StatusInProgress)
	return nil
}

func (m *memUploads) setStatus(id string, status mongodb.Status, apply func(*mongodb.Upload)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	if !ok {
		return mongodb.ErrUploadNotFound
	}
	u.Status = status
	if apply != nil {
		apply(&u)
	}
	m.records[id] = u
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memUploads) SetStatus(_ context.Context, id string, status mongodb.Status) error {
	return m.setStatus(id, status, nil)
}

func (m *memUploads) Complete(_ context.Context, id string, rows int64) error {
	return m.setStatus(id, mongodb.StatusSuccess, func(u *mongodb.Upload) { u.Rows = rows })
}

func (m *memUploads) Fail(_ context.Context, id, reason string) error {
	return m.setStatus(id, mongodb.StatusFail, func(u *mongodb.Upload) { u.Error = reason })
}

func (m *memUploads) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return mongodb.ErrUploadNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memUploads) ListByProject(_ context.Context, projectID string) ([]mongodb.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mongodb.Upload
	for _, u := range m.records {
		if u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memUploads) get(id string) (mongodb.Upload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.records[id]
	return u, ok
}

func (m *memUploads) statuses(id string) []mongodb.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mongodb.Status(nil), m.history[id]...)
}

// mockProvisioner hands out one sqlmock pool for every project.
type mockProvisioner struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
	err  error
}

func newMockProvisioner(t *testing.T) *mockProvisioner {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &mockProvisioner{db: db, mock: mock}
}

func (p *mockProvisioner) EnsureDatabase(context.Context, string) (*sql.DB, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.db, nil
}

func (p *mockProvisioner) AdminDB() string { return "postgres" }

func (p *mockProvisioner) Engine(string) (*sql.DB, bool) {
	return p.db, p.err == nil
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, projectID, name, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[base.ObjectKey(projectID, name)] = data
	return nil
}

func (m *memStore) List(_ context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for key := range m.objects {
		if name, ok := base.ObjectName(projectID, key); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) SignedURL(_ context.Context, projectID, name string, _ time.Duration) (string, error) {
	return "https://blob.example.com/" + base.ObjectKey(projectID, name) + "?sig=x", nil
}

func (m *memStore) Delete(_ context.Context, projectID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, base.ObjectKey(projectID, name))
	return nil
}

func (m *memStore) HealthCheck(context.Context) (*base.HealthStatus, error) {
	return &base.HealthStatus{Healthy: true, Timestamp: time.Now()}, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(projectID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[base.ObjectKey(projectID, name)]
	return ok
}

// stubAgent answers every question with a fixed reply.
type stubAgent struct {
	answer *sqlagent.Answer
	err    error
}

func (a *stubAgent) Run(context.Context, string, string, string) (*sqlagent.Answer, error) {
	return a.answer, a.err
}

// stubProvider returns one canned completion.
type stubProvider struct {
	reply string
}

func (p *stubProvider) Name() string { return "stub" }
func (p *stubProvider) Type() llm.ProviderType { return llm.ProviderTypeOpenAI }

func (p *stubProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: p.reply, Usage: llm.UsageStats{TotalTokens: 12}}, nil
}

// testEnv bundles a Server with its fakes.
type testEnv struct {
	server  *Server
	uploads *memUploads
	prov    *mockProvisioner
	store   *memStore
	agent   *stubAgent
	tasks   *background.Group
	metrics *MetricsCollector
}

func newTestEnv(t *testing.T, mutate func(*ServerDeps)) *testEnv {
	t.Helper()
	env := &testEnv{
		uploads: newMemUploads(),
		prov:    newMockProvisioner(t),
		store:   newMemStore(),
		agent:   &stubAgent{answer: &sqlagent.Answer{Success: true, Answer: "42"}},
		tasks:   background.New(logger.Discard("background"), nil),
		metrics: NewMetricsCollector(),
	}
	deps := ServerDeps{
		Tables:  NewTableService(env.uploads, env.prov, "postgres", env.tasks, logger.Discard("tables")),
		Agent:   env.agent,
		Images:  images.NewService(env.store, &stubProvider{reply: `{"name": "logo.png"}`}, env.tasks, time.Hour, logger.Discard("images")),
		Metrics: env.metrics,
		Health:  map[string]HealthChecker{"images": env.store},
		Logger:  logger.Discard("orchestrator"),
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.server = NewServer(deps)
	return env
}

// drain waits for background work started by the handlers.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.tasks.Shutdown(ctx))
}

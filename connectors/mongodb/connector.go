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

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"axonflow/tabula/connectors/base"
)

const (
	// DefaultTimeout is the default operation timeout
	DefaultTimeout = 30 * time.Second
	// DefaultConnectTimeout is the default connection timeout
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the default maximum connection pool size
	DefaultMaxPoolSize = 100
	// DefaultMinPoolSize is the default minimum connection pool size
	DefaultMinPoolSize = 5

	connectorName = "mongodb"
)

// Config describes the metadata database.
type Config struct {
	URI        string
	Database   string
	Collection string

	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
	Timeout        time.Duration
	AppName        string
}

func (c Config) validate() error {
	if c.URI == "" {
		return errors.New("mongodb URI is required")
	}
	if c.Database == "" {
		return errors.New("mongodb database name is required")
	}
	if c.Collection == "" {
		return errors.New("mongodb collection name is required")
	}
	return nil
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout == 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c Config) clientOptions() *options.ClientOptions {
	maxPool := c.MaxPoolSize
	if maxPool == 0 {
		maxPool = DefaultMaxPoolSize
	}
	minPool := c.MinPoolSize
	if minPool == 0 {
		minPool = DefaultMinPoolSize
	}
	connectTimeout := c.connectTimeout()
	appName := c.AppName
	if appName == "" {
		appName = "tabula-uploads"
	}

	return options.Client().
		ApplyURI(c.URI).
		SetMaxPoolSize(maxPool).
		SetMinPoolSize(minPool).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout).
		SetAppName(appName).
		SetRetryWrites(true).
		SetRetryReads(true)
}

// Connect dials MongoDB, verifies the connection and returns an UploadStore
// backed by cfg.Collection.
func Connect(ctx context.Context, cfg Config) (*UploadStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "invalid configuration", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	client, err := mongo.Connect(connectCtx, cfg.clientOptions())
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to connect to MongoDB", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to ping MongoDB", err)
	}

	store := &UploadStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
		logger:     log.New(os.Stdout, "[MONGO_UPLOADS] ", log.LstdFlags),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		store.logger.Printf("Warning: failed to create indexes: %v", err)
	}

	store.logger.Printf("Connected to MongoDB (database=%s, collection=%s)", cfg.Database, cfg.Collection)
	return store, nil
}

func (s *UploadStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "file_name", Value: 1}},
			Options: options.Index().SetName("project_file"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
	})
	return err
}

// Close disconnects the client.
func (s *UploadStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.client.Disconnect(disconnectCtx); err != nil {
		return base.NewConnectorError(connectorName, "Disconnect", "failed to disconnect", err)
	}
	s.logger.Printf("Disconnected from MongoDB")
	return nil
}

// HealthCheck pings the primary.
func (s *UploadStore) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if s.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "client not connected"}, nil
	}

	start := time.Now()
	err := s.client.Ping(ctx, readpref.Primary())
	latency := time.Since(start)
	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Timestamp: time.Now(),
		Details:   map[string]string{"collection": fmt.Sprintf("%s.%s", s.collection.Database().Name(), s.collection.Name())},
	}, nil
}

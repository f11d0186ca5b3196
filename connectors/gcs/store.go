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

package gcs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"axonflow/tabula/connectors/base"
)

const connectorName = "gcs"

// Config configures a GCS image store. Without explicit credentials the
// client uses Application Default Credentials.
type Config struct {
	Bucket          string
	CredentialsFile string
	CredentialsJSON string

	// Endpoint points the client at an emulator; authentication is then
	// disabled.
	Endpoint string

	// GoogleAccessID and PrivateKey sign URLs when the credentials in use
	// cannot, e.g. under workload identity without IAM signBlob.
	GoogleAccessID string
	PrivateKey     []byte
}

func (c Config) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	} else if c.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// Store keeps project images in one bucket, under "<project_id>/".
type Store struct {
	client         *storage.Client
	bucket         string
	googleAccessID string
	privateKey     []byte
	logger         *log.Logger
}

var _ base.ObjectStore = (*Store)(nil)

// New creates the client and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, base.NewConnectorError(connectorName, "Connect", "bucket is required", nil)
	}

	client, err := storage.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to create GCS client", err)
	}

	s := &Store{
		client:         client,
		bucket:         cfg.Bucket,
		googleAccessID: cfg.GoogleAccessID,
		privateKey:     cfg.PrivateKey,
		logger:         log.New(os.Stdout, "[GCS] ", log.LstdFlags),
	}

	if err := s.ping(ctx); err != nil {
		_ = client.Close()
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to verify GCS connectivity", err)
	}

	s.logger.Printf("Connected to GCS (bucket: %s)", s.bucket)
	return s, nil
}

func (s *Store) ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Put uploads data as projectID/name.
func (s *Store) Put(ctx context.Context, projectID, name, contentType string, data []byte) error {
	key := base.ObjectKey(projectID, name)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return base.NewConnectorError(connectorName, "Put", "failed to write object", err)
	}
	if err := writer.Close(); err != nil {
		return base.NewConnectorError(connectorName, "Put", fmt.Sprintf("failed to upload object: %s", key), err)
	}
	return nil
}

// List returns the names of the project's images.
func (s *Store) List(ctx context.Context, projectID string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: base.ObjectPrefix(projectID),
	})

	names := make([]string, 0)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "List", "failed to list objects", err)
		}
		if name, ok := base.ObjectName(projectID, attrs.Name); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// SignedURL returns a V4 signed GET URL valid for ttl.
func (s *Store) SignedURL(_ context.Context, projectID, name string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: s.googleAccessID,
		PrivateKey:     s.privateKey,
	}

	u, err := s.client.Bucket(s.bucket).SignedURL(base.ObjectKey(projectID, name), opts)
	if err != nil {
		return "", base.NewConnectorError(connectorName, "SignedURL", "failed to generate signed URL", err)
	}
	return u, nil
}

// Delete removes the image. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, projectID, name string) error {
	key := base.ObjectKey(projectID, name)
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Printf("Object %s already deleted", key)
		return nil
	}
	if err != nil {
		return base.NewConnectorError(connectorName, "Delete", fmt.Sprintf("failed to delete object: %s", key), err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := s.ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Error:     err.Error(),
			Latency:   latency,
			Timestamp: time.Now(),
		}, nil
	}

	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Details:   map[string]string{"bucket": s.bucket},
		Timestamp: time.Now(),
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

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

package azureblob

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"axonflow/tabula/connectors/base"
)

const connectorName = "azureblob"

// AuthMethod identifies how the store authenticates to the account.
type AuthMethod string

const (
	AuthConnectionString AuthMethod = "connection_string"
	AuthAccountKey       AuthMethod = "account_key"
	AuthManagedIdentity  AuthMethod = "managed_identity"
)

// Config configures an Azure Blob image store.
type Config struct {
	AccountName        string
	AccountKey         string
	ConnectionString   string
	UseManagedIdentity bool

	// ServiceURL overrides https://<account>.blob.core.windows.net/, e.g.
	// for Azurite.
	ServiceURL string

	Container       string
	CreateContainer bool
}

func (c Config) authMethod() (AuthMethod, error) {
	switch {
	case c.ConnectionString != "":
		return AuthConnectionString, nil
	case c.AccountKey != "":
		return AuthAccountKey, nil
	case c.UseManagedIdentity:
		return AuthManagedIdentity, nil
	}
	return "", base.NewConnectorError(connectorName, "Connect", "no authentication method provided", nil)
}

func (c Config) serviceURL() string {
	if c.ServiceURL != "" {
		return c.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

func (c Config) validate() error {
	if c.Container == "" {
		return base.NewConnectorError(connectorName, "Connect", "container is required", nil)
	}
	if c.ConnectionString == "" && c.AccountName == "" {
		return base.NewConnectorError(connectorName, "Connect", "account name is required", nil)
	}
	_, err := c.authMethod()
	return err
}

// Store keeps project images in one container, under "<project_id>/".
type Store struct {
	client    *azblob.Client
	auth      AuthMethod
	container string
	logger    *log.Logger
}

var _ base.ObjectStore = (*Store)(nil)

// New connects to the account and verifies the container is reachable,
// creating it first when cfg.CreateContainer is set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.CreateContainer {
		_, err := s.client.CreateContainer(ctx, s.container, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create container "+s.container, err)
		}
	}

	if err := s.ping(ctx); err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to verify Azure Blob connectivity", err)
	}

	s.logger.Printf("Connected to Azure Blob Storage (container: %s, auth: %s)", s.container, s.auth)
	return s, nil
}

func newStore(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	auth, _ := cfg.authMethod()

	var (
		client *azblob.Client
		err    error
	)
	switch auth {
	case AuthConnectionString:
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create client from connection string", err)
		}
	case AuthAccountKey:
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create shared key credential", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create client", err)
		}
	case AuthManagedIdentity:
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create Azure credential", credErr)
		}
		client, err = azblob.NewClient(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "Connect", "failed to create client", err)
		}
	}

	return &Store{
		client:    client,
		auth:      auth,
		container: cfg.Container,
		logger:    log.New(os.Stdout, "[AZURE_BLOB] ", log.LstdFlags),
	}, nil
}

func (s *Store) ping(ctx context.Context) error {
	_, err := s.client.ServiceClient().NewContainerClient(s.container).GetProperties(ctx, nil)
	return err
}

func (s *Store) blobClient(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}

// Put uploads data as projectID/name, replacing any existing blob.
func (s *Store) Put(ctx context.Context, projectID, name, contentType string, data []byte) error {
	key := base.ObjectKey(projectID, name)
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	if err != nil {
		return base.NewConnectorError(connectorName, "Put", fmt.Sprintf("failed to upload blob: %s", key), err)
	}
	return nil
}

// List returns the names of the project's images.
func (s *Store) List(ctx context.Context, projectID string) ([]string, error) {
	prefix := base.ObjectPrefix(projectID)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	names := make([]string, 0)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "List", "failed to list blobs", err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if name, ok := base.ObjectName(projectID, *item.Name); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// SignedURL returns a read-only SAS URL for the image valid for ttl.
// Managed identity stores sign with a user delegation key.
func (s *Store) SignedURL(ctx context.Context, projectID, name string, ttl time.Duration) (string, error) {
	key := base.ObjectKey(projectID, name)
	start := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	expiry := time.Now().UTC().Add(ttl)
	perms := sas.BlobPermissions{Read: true}

	if s.auth != AuthManagedIdentity {
		u, err := s.blobClient(key).GetSASURL(perms, expiry, &blob.GetSASURLOptions{StartTime: &start})
		if err != nil {
			return "", base.NewConnectorError(connectorName, "SignedURL", "failed to generate SAS URL", err)
		}
		return u, nil
	}

	startStr := start.Format(time.RFC3339)
	expiryStr := expiry.Format(time.RFC3339)
	udc, err := s.client.ServiceClient().GetUserDelegationCredential(ctx, service.KeyInfo{
		Start:  &startStr,
		Expiry: &expiryStr,
	}, nil)
	if err != nil {
		return "", base.NewConnectorError(connectorName, "SignedURL", "failed to get user delegation key", err)
	}

	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    expiry,
		Permissions:   perms.String(),
		ContainerName: s.container,
		BlobName:      key,
	}.SignWithUserDelegation(udc)
	if err != nil {
		return "", base.NewConnectorError(connectorName, "SignedURL", "failed to generate SAS token", err)
	}
	return s.blobClient(key).URL() + "?" + params.Encode(), nil
}

// Delete removes the image. A missing blob is not an error.
func (s *Store) Delete(ctx context.Context, projectID, name string) error {
	key := base.ObjectKey(projectID, name)
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		s.logger.Printf("Blob %s already deleted", key)
		return nil
	}
	if err != nil {
		return base.NewConnectorError(connectorName, "Delete", fmt.Sprintf("failed to delete blob: %s", key), err)
	}
	return nil
}

// HealthCheck verifies the container is reachable.
func (s *Store) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
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
		Healthy: true,
		Latency: latency,
		Details: map[string]string{
			"container": s.container,
			"auth":      string(s.auth),
		},
		Timestamp: time.Now(),
	}, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}

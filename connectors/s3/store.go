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

package s3

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"axonflow/tabula/connectors/base"
)

const connectorName = "s3"

// Config configures an S3 image store. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c Config) region() string {
	if c.Region == "" {
		return "us-east-1"
	}
	return c.Region
}

// Store keeps project images in one bucket, under "<project_id>/".
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *log.Logger
}

var _ base.ObjectStore = (*Store)(nil)

// New builds the client and verifies the bucket with HeadBucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.ping(ctx); err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to verify S3 connectivity", err)
	}

	s.logger.Printf("Connected to S3 (bucket: %s, region: %s)", s.bucket, cfg.region())
	return s, nil
}

func newStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, base.NewConnectorError(connectorName, "Connect", "bucket is required", nil)
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.region()),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Connect", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		logger:  log.New(os.Stdout, "[S3] ", log.LstdFlags),
	}, nil
}

func (s *Store) ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

// Put uploads data as projectID/name.
func (s *Store) Put(ctx context.Context, projectID, name, contentType string, data []byte) error {
	key := base.ObjectKey(projectID, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return base.NewConnectorError(connectorName, "Put", fmt.Sprintf("failed to put object: %s", key), err)
	}
	return nil
}

// List returns the names of the project's images.
func (s *Store) List(ctx context.Context, projectID string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base.ObjectPrefix(projectID)),
	})

	names := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, base.NewConnectorError(connectorName, "List", "failed to list objects", err)
		}
		for _, obj := range page.Contents {
			if name, ok := base.ObjectName(projectID, aws.ToString(obj.Key)); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// SignedURL returns a presigned GET URL valid for ttl.
func (s *Store) SignedURL(ctx context.Context, projectID, name string, ttl time.Duration) (string, error) {
	presigned, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(base.ObjectKey(projectID, name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", base.NewConnectorError(connectorName, "SignedURL", "failed to presign get object", err)
	}
	return presigned.URL, nil
}

// Delete removes the image. S3 treats a missing key as deleted.
func (s *Store) Delete(ctx context.Context, projectID, name string) error {
	key := base.ObjectKey(projectID, name)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
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

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

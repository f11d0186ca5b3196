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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"axonflow/tabula/connectors/base"
)

// Status is the lifecycle state of an upload record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFail       Status = "fail"
	StatusDeleting   Status = "deleting"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusSuccess, StatusFail, StatusDeleting:
		return true
	}
	return false
}

var (
	// ErrUploadNotFound is returned when no record matches.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrFileExists is returned when a project already holds a successful
	// upload with the same file name.
	ErrFileExists = errors.New("file already exists")

	// ErrUploadBusy is returned while a load or delete of the same file is
	// still running.
	ErrUploadBusy = errors.New("upload still in progress")
)

// Upload is the metadata record of one uploaded file.
type Upload struct {
	ID        string    `bson:"_id" json:"id"`
	ProjectID string    `bson:"project_id" json:"project_id"`
	FileName  string    `bson:"file_name" json:"file_name"`
	FileType  string    `bson:"file_type" json:"file_type"`
	TableName string    `bson:"table_name,omitempty" json:"table_name,omitempty"`
	Status    Status    `bson:"status" json:"status"`
	Rows      int64     `bson:"rows" json:"rows"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// UploadStore keeps upload records in a MongoDB collection.
type UploadStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *log.Logger
}

func (s *UploadStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// FindByFileName returns the record for fileName in projectID.
func (s *UploadStore) FindByFileName(ctx context.Context, projectID, fileName string) (*Upload, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u Upload
	err := s.collection.FindOne(ctx, bson.M{"project_id": projectID, "file_name": fileName}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "FindByFileName", "find failed", err)
	}
	return &u, nil
}

// Get returns the record with id.
func (s *UploadStore) Get(ctx context.Context, id string) (*Upload, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u Upload
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Get", "find failed", err)
	}
	return &u, nil
}

// Upsert writes u with status in_progress, creating it if needed.
func (s *UploadStore) Upsert(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		return base.NewConnectorError(connectorName, "Upsert", "upload id is required", nil)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	u.Status = StatusInProgress
	u.UpdatedAt = now

	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": u.ID}, upsertDocument(u, now), options.Update().SetUpsert(true))
	if err != nil {
		return base.NewConnectorError(connectorName, "Upsert", "update failed", err)
	}
	return nil
}

func upsertDocument(u *Upload, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"project_id": u.ProjectID,
			"file_name":  u.FileName,
			"file_type":  u.FileType,
			"table_name": u.TableName,
			"status":     StatusInProgress,
			"rows":       int64(0),
			"error":      "",
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
}

// SetStatus moves the record to status.
func (s *UploadStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, "SetStatus", id, statusUpdate(status, nil))
}

// Complete marks the record successful with its row count.
func (s *UploadStore) Complete(ctx context.Context, id string, rows int64) error {
	return s.update(ctx, "Complete", id, statusUpdate(StatusSuccess, bson.M{"rows": rows, "error": ""}))
}

// Fail marks the record failed with reason.
func (s *UploadStore) Fail(ctx context.Context, id, reason string) error {
	return s.update(ctx, "Fail", id, statusUpdate(StatusFail, bson.M{"error": reason}))
}

func statusUpdate(status Status, extra bson.M) bson.M {
	set := bson.M{"status": status, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		set[k] = v
	}
	return bson.M{"$set": set}
}

func (s *UploadStore) update(ctx context.Context, op, id string, update bson.M) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return base.NewConnectorError(connectorName, op, "update failed", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrUploadNotFound)
	}
	return nil
}

// Delete removes the record with id.
func (s *UploadStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return base.NewConnectorError(connectorName, "Delete", "delete failed", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrUploadNotFound)
	}
	return nil
}

// ListByProject returns the project's records, newest first.
func (s *UploadStore) ListByProject(ctx context.Context, projectID string) ([]Upload, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{"project_id": projectID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "ListByProject", "find failed", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	uploads := make([]Upload, 0)
	if err := cursor.All(ctx, &uploads); err != nil {
		return nil, base.NewConnectorError(connectorName, "ListByProject", "failed to decode cursor", err)
	}
	return uploads, nil
}

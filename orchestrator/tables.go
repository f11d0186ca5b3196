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

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/mongodb"
	"axonflow/tabula/connectors/postgres"
	"axonflow/tabula/orchestrator/ingest"
	"axonflow/tabula/orchestrator/sqlagent"
	"axonflow/tabula/shared/background"
	"axonflow/tabula/shared/keyedlock"
	"axonflow/tabula/shared/logger"
)

// UploadStore persists upload metadata records.
type UploadStore interface {
	FindByFileName(ctx context.Context, projectID, fileName string) (*mongodb.Upload, error)
	Get(ctx context.Context, id string) (*mongodb.Upload, error)
	Upsert(ctx context.Context, u *mongodb.Upload) error
	SetStatus(ctx context.Context, id string, status mongodb.Status) error
	Complete(ctx context.Context, id string, rows int64) error
	Fail(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
	ListByProject(ctx context.Context, projectID string) ([]mongodb.Upload, error)
}

// TableService loads uploaded spreadsheets into project databases and
// removes them again.
//
// locks is the request-layer lock set: it orders metadata mutations of one
// project. Database and executor creation are guarded separately inside
// their resource caches, so holding a project lock here never blocks another
// project's provisioning.
type TableService struct {
	uploads     UploadStore
	provisioner sqlagent.Provisioner
	adminDB     string
	locks       *keyedlock.Registry[string]
	tasks       *background.Group
	newID       func() string
	logger      *logger.Logger
}

// NewTableService wires a TableService. adminDB is the maintenance database
// that project ids may not shadow.
func NewTableService(uploads UploadStore, provisioner sqlagent.Provisioner, adminDB string, tasks *background.Group, log *logger.Logger) *TableService {
	if log == nil {
		log = logger.New("tables")
	}
	return &TableService{
		uploads:     uploads,
		provisioner: provisioner,
		adminDB:     adminDB,
		locks:       keyedlock.New[string](),
		tasks:       tasks,
		newID:       uuid.NewString,
		logger:      log,
	}
}

// ValidateProject rejects project ids that cannot name a database.
func (s *TableService) ValidateProject(projectID string) error {
	return base.ValidateProjectID(projectID, s.adminDB)
}

// Upload records fileName for projectID, parses it and schedules the table
// load. It returns once the file is parsed; the record reaches success or
// fail when the background load ends.
func (s *TableService) Upload(ctx context.Context, projectID, requestID, fileName string, data []byte) (*mongodb.Upload, error) {
	fileType, err := ingest.DetectFileType(fileName)
	if err != nil {
		return nil, err
	}
	tableName, err := ingest.TableName(fileName)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateProject(projectID); err != nil {
		return nil, err
	}

	lock := s.locks.For(projectID)
	if err := lock.LockContext(ctx); err != nil {
		return nil, err
	}
	defer lock.Unlock()

	id := s.newID()
	existing, err := s.uploads.FindByFileName(ctx, projectID, fileName)
	switch {
	case err == nil && existing.Status == mongodb.StatusSuccess:
		return nil, fmt.Errorf("%w: %s", mongodb.ErrFileExists, fileName)
	case err == nil && (existing.Status == mongodb.StatusInProgress || existing.Status == mongodb.StatusDeleting):
		return nil, fmt.Errorf("%w: %s", mongodb.ErrUploadBusy, fileName)
	case err == nil:
		id = existing.ID
	case !errors.Is(err, mongodb.ErrUploadNotFound):
		return nil, err
	}

	rec := &mongodb.Upload{
		ID:        id,
		ProjectID: projectID,
		FileName:  fileName,
		FileType:  string(fileType),
		TableName: tableName,
	}
	if err := s.uploads.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	table, err := ingest.Parse(fileName, data)
	if err != nil {
		s.fail(ctx, rec, requestID, err)
		return nil, err
	}

	err = s.tasks.Go(ctx, "table_load", projectID, func(ctx context.Context) error {
		return s.load(ctx, rec, requestID, table)
	})
	if err != nil {
		s.fail(ctx, rec, requestID, err)
		return nil, err
	}

	s.logger.Info(projectID, requestID, "Upload accepted", map[string]interface{}{
		"upload_id": id,
		"file_name": base.SanitizeLogString(fileName),
		"table":     table.Name,
		"rows":      len(table.Rows),
	})
	return rec, nil
}

func (s *TableService) load(ctx context.Context, rec *mongodb.Upload, requestID string, table *ingest.Table) error {
	err := s.writeTable(ctx, rec.ProjectID, table)
	if err != nil {
		s.fail(ctx, rec, requestID, err)
		return err
	}
	if err := s.uploads.Complete(ctx, rec.ID, int64(len(table.Rows))); err != nil {
		return fmt.Errorf("mark upload %s complete: %w", rec.ID, err)
	}
	return nil
}

func (s *TableService) writeTable(ctx context.Context, projectID string, table *ingest.Table) error {
	db, err := s.provisioner.EnsureDatabase(ctx, projectID)
	if err != nil {
		return err
	}
	if err := postgres.CreateTable(ctx, db, table.Name, table.Columns); err != nil {
		return err
	}
	_, err = postgres.InsertRows(ctx, db, table.Name, table.Columns, table.Rows)
	return err
}

func (s *TableService) fail(ctx context.Context, rec *mongodb.Upload, requestID string, cause error) {
	if err := s.uploads.Fail(ctx, rec.ID, cause.Error()); err != nil {
		s.logger.Error(rec.ProjectID, requestID, "Failed to mark upload as failed", map[string]interface{}{
			"upload_id": rec.ID,
			"error":     err.Error(),
		})
	}
}

// Delete marks fileID as deleting and drops its table in the background.
// The record is removed once the table is gone; if that fails the record
// returns to success.
func (s *TableService) Delete(ctx context.Context, projectID, requestID, fileID string) error {
	if err := s.ValidateProject(projectID); err != nil {
		return err
	}

	lock := s.locks.For(projectID)
	if err := lock.LockContext(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	rec, err := s.uploads.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.ProjectID != projectID {
		return fmt.Errorf("%w: %s", mongodb.ErrUploadNotFound, fileID)
	}

	if err := s.uploads.SetStatus(ctx, fileID, mongodb.StatusDeleting); err != nil {
		return err
	}

	err = s.tasks.Go(ctx, "table_delete", projectID, func(ctx context.Context) error {
		return s.drop(ctx, rec, requestID)
	})
	if err != nil {
		s.restore(ctx, rec, requestID)
		return err
	}
	return nil
}

func (s *TableService) drop(ctx context.Context, rec *mongodb.Upload, requestID string) error {
	if rec.TableName != "" {
		db, err := s.provisioner.EnsureDatabase(ctx, rec.ProjectID)
		if err == nil {
			err = postgres.DropTable(ctx, db, rec.TableName)
		}
		if err != nil {
			s.restore(ctx, rec, requestID)
			return err
		}
	}
	return s.uploads.Delete(ctx, rec.ID)
}

func (s *TableService) restore(ctx context.Context, rec *mongodb.Upload, requestID string) {
	if err := s.uploads.SetStatus(ctx, rec.ID, mongodb.StatusSuccess); err != nil {
		s.logger.Error(rec.ProjectID, requestID, "Failed to restore upload status", map[string]interface{}{
			"upload_id": rec.ID,
			"error":     err.Error(),
		})
	}
}

// List returns the project's upload records, newest first.
func (s *TableService) List(ctx context.Context, projectID string) ([]mongodb.Upload, error) {
	if err := s.ValidateProject(projectID); err != nil {
		return nil, err
	}
	return s.uploads.ListByProject(ctx, projectID)
}

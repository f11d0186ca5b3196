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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/mongodb"
	"axonflow/tabula/orchestrator/images"
	"axonflow/tabula/orchestrator/ingest"
	"axonflow/tabula/orchestrator/sqlagent"
	"axonflow/tabula/shared/logger"
)

const (
	maxUploadBytes = 64 << 20
	version        = "1.0.0"
)

type requestIDKey struct{}

// QueryAgent answers questions over a project's tables.
type QueryAgent interface {
	Run(ctx context.Context, projectID, requestID, question string) (*sqlagent.Answer, error)
}

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*base.HealthStatus, error)
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) (*base.HealthStatus, error)

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return f(ctx)
}

// ServerDeps are the collaborators of a Server. Limiter, Auth and Health
// are optional.
type ServerDeps struct {
	Tables      *TableService
	Agent       QueryAgent
	Images      *images.Service
	Limiter     RateLimiter
	Auth        *Authenticator
	Metrics     *MetricsCollector
	Health      map[string]HealthChecker
	CORSOrigins []string
	Logger      *logger.Logger
}

// Server is the HTTP API.
type Server struct {
	ServerDeps
}

// NewServer builds a Server from deps.
func NewServer(deps ServerDeps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetricsCollector()
	}
	if deps.Logger == nil {
		deps.Logger = logger.New("orchestrator")
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Server{ServerDeps: deps}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	r.Handle("/prometheus", s.Metrics.Handler()).Methods("GET")

	api := r.NewRoute().Subrouter()
	if s.Auth != nil {
		api.Use(s.Auth.Middleware)
	}

	api.HandleFunc("/csv/upload_data", s.uploadDataHandler).Methods("POST")
	api.HandleFunc("/csv/run_sql_query", s.runSQLQueryHandler).Methods("POST")
	api.HandleFunc("/csv/delete_data", s.deleteDataHandler).Methods("POST")
	api.HandleFunc("/csv/uploads/{project_id}", s.listUploadsHandler).Methods("GET")

	api.HandleFunc("/images/upload", s.uploadImageHandler).Methods("POST")
	api.HandleFunc("/images/run_image_query", s.runImageQueryHandler).Methods("POST")
	api.HandleFunc("/images/delete", s.deleteImageHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.Metrics.RecordRequest(route, rec.status, time.Since(start))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"message": message})
}

// formValues parses a multipart or urlencoded form and returns the named
// required fields. It writes a 422 and returns false when one is missing.
func formValues(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid form: %v", err))
		return nil, false
	}
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = r.FormValue(name)
		if values[i] == "" {
			writeMessage(w, http.StatusUnprocessableEntity, fmt.Sprintf("Field required: %s", name))
			return nil, false
		}
	}
	return values, true
}

func readFormFile(r *http.Request) (*multipart.FileHeader, []byte, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, err
	}
	return header, data, nil
}

// authorize enforces the caller's project scope and the per-project rate
// limit. It writes the rejection and returns false when the request may not
// proceed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, projectID string, limited bool) bool {
	if !CallerFromContext(r.Context()).CanAccess(projectID) {
		writeMessage(w, http.StatusForbidden, fmt.Sprintf("Access to project %s denied.", projectID))
		return false
	}
	if limited && s.Limiter != nil {
		if err := s.Limiter.Allow(r.Context(), projectID); err != nil {
			s.Metrics.RecordRateLimited()
			s.Logger.Warn(projectID, requestIDFrom(r.Context()), "Rate limit exceeded", map[string]interface{}{"error": err.Error()})
			writeMessage(w, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded for project %s.", projectID))
			return false
		}
	}
	return true
}

func (s *Server) uploadDataHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id")
	if !ok {
		return
	}
	projectID := values[0]
	header, data, err := readFormFile(r)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Field required: file")
		return
	}
	if !s.authorize(w, r, projectID, false) {
		return
	}

	fileName := header.Filename
	requestID := requestIDFrom(r.Context())
	_, err = s.Tables.Upload(r.Context(), projectID, requestID, fileName, data)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, fmt.Sprintf("File %s uploaded successfully to %s database.", fileName, projectID))
	case errors.Is(err, ingest.ErrUnsupportedFileType):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("File format for %s not supported, please upload a CSV or XLSX file.", fileName))
	case errors.Is(err, mongodb.ErrFileExists):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("File %s already exists in database.", fileName))
	case errors.Is(err, mongodb.ErrUploadBusy):
		writeMessage(w, http.StatusConflict, fmt.Sprintf("File %s is still being processed, try again later.", fileName))
	case errors.Is(err, base.ErrInvalidProjectID), errors.Is(err, base.ErrInvalidName):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Error uploading file %s to %s database: %v", fileName, projectID, err))
	default:
		s.Logger.ErrorWithCode(projectID, requestID, "Upload failed", http.StatusInternalServerError, err, nil)
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading file %s to %s database: %v", fileName, projectID, err))
	}
}

func (s *Server) runSQLQueryHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id", "query")
	if !ok {
		return
	}
	projectID, query := values[0], values[1]
	if !s.authorize(w, r, projectID, true) {
		return
	}

	requestID := requestIDFrom(r.Context())
	answer, err := s.Agent.Run(r.Context(), projectID, requestID, query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, base.ErrInvalidProjectID) {
			status = http.StatusBadRequest
		}
		s.Logger.ErrorWithCode(projectID, requestID, "Query failed", status, err, nil)
		writeMessage(w, status, fmt.Sprintf("Error running query %s on %s database: %v", query, projectID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Query %s ran successfully on %s database.", query, projectID),
		"result":  answer,
	})
}

func (s *Server) deleteDataHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id", "file_id")
	if !ok {
		return
	}
	projectID, fileID := values[0], values[1]
	if !s.authorize(w, r, projectID, false) {
		return
	}

	requestID := requestIDFrom(r.Context())
	err := s.Tables.Delete(r.Context(), projectID, requestID, fileID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": fmt.Sprintf("File %s deleted successfully from %s database.", fileID, projectID),
			"result":  true,
		})
	case errors.Is(err, mongodb.ErrUploadNotFound):
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("File %s not found in %s database.", fileID, projectID))
	case errors.Is(err, base.ErrInvalidProjectID):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Error deleting file %s from %s database: %v", fileID, projectID, err))
	default:
		s.Logger.ErrorWithCode(projectID, requestID, "Delete failed", http.StatusInternalServerError, err, nil)
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("Error deleting file %s from %s database: %v", fileID, projectID, err))
	}
}

func (s *Server) listUploadsHandler(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	if !s.authorize(w, r, projectID, false) {
		return
	}
	uploads, err := s.Tables.List(r.Context(), projectID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, base.ErrInvalidProjectID) {
			status = http.StatusBadRequest
		}
		writeMessage(w, status, fmt.Sprintf("Error listing files of %s database: %v", projectID, err))
		return
	}
	if uploads == nil {
		uploads = []mongodb.Upload{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}

func (s *Server) uploadImageHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id")
	if !ok {
		return
	}
	projectID := values[0]
	header, data, err := readFormFile(r)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Field required: file")
		return
	}
	if !s.authorize(w, r, projectID, false) {
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !images.ContentTypeAllowed(contentType) {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("File format for %s not supported, please upload a JPEG or PNG image.", header.Filename))
		return
	}
	if err := s.Tables.ValidateProject(projectID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "failure": fmt.Sprintf("Error uploading image file: %v", err)})
		return
	}

	if err := s.Images.Upload(r.Context(), projectID, header.Filename, contentType, data); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, base.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "failure": fmt.Sprintf("Error uploading image file: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) runImageQueryHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id", "query")
	if !ok {
		return
	}
	projectID, query := values[0], values[1]
	userID := r.FormValue("user_id")
	if !s.authorize(w, r, projectID, true) {
		return
	}
	if err := s.Tables.ValidateProject(projectID); err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Error running query: %v", err))
		return
	}

	requestID := requestIDFrom(r.Context())
	result, err := s.Images.Query(r.Context(), projectID, userID, requestID, query)
	if err != nil || !result.Success {
		if err != nil {
			s.Logger.ErrorWithCode(projectID, requestID, "Image query failed", http.StatusInternalServerError, err, nil)
		}
		writeMessage(w, http.StatusInternalServerError, "Error running query.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Query ran successfully.",
		"result":  result.Answer,
	})
}

func (s *Server) deleteImageHandler(w http.ResponseWriter, r *http.Request) {
	values, ok := formValues(w, r, "project_id", "file_id")
	if !ok {
		return
	}
	projectID, fileID := values[0], values[1]
	if !s.authorize(w, r, projectID, false) {
		return
	}
	if err := s.Tables.ValidateProject(projectID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "failure": fmt.Sprintf("Failed to delete image file: %v", err)})
		return
	}

	if err := s.Images.Delete(r.Context(), projectID, fileID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, base.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "failure": fmt.Sprintf("Failed to delete image file: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	components := make(map[string]*base.HealthStatus, len(s.Health))
	for name, checker := range s.Health {
		status, err := checker.HealthCheck(ctx)
		if status == nil {
			status = &base.HealthStatus{Timestamp: time.Now()}
		}
		if err != nil && status.Error == "" {
			status.Error = err.Error()
		}
		if err != nil || !status.Healthy {
			healthy = false
		}
		components[name] = status
	}

	code, state := http.StatusOK, "healthy"
	if !healthy {
		code, state = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     state,
		"service":    "tabula",
		"version":    version,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics.Snapshot())
}

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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/connectors/mongodb"
)

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file *formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func formRequest(path string, fields map[string]string) *http.Request {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(env *testEnv, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	return rr, body
}

func TestUploadData(t *testing.T) {
	env := newTestEnv(t, nil)
	expectSalesLoad(env.prov.mock)

	req := multipartRequest(t, "/csv/upload_data", map[string]string{"project_id": "acme"},
		&formFile{name: "sales.csv", contentType: "text/csv", data: []byte(salesCSV)})
	rr, body := serve(env, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "File sales.csv uploaded successfully to acme database.", body["message"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	env.drain(t)
	require.NoError(t, env.prov.mock.ExpectationsWereMet())
	list, err := env.uploads.ListByProject(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mongodb.StatusSuccess, list[0].Status)
}

func TestUploadData_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploads.records["old"] = mongodb.Upload{ID: "old", ProjectID: "acme", FileName: "sales.csv", Status: mongodb.StatusSuccess}
	env.uploads.records["loading"] = mongodb.Upload{ID: "loading", ProjectID: "acme", FileName: "costs.csv", Status: mongodb.StatusInProgress}

	tests := []struct {
		name    string
		project string
		file    *formFile
		code    int
		message string
	}{
		{
			name:    "unsupported format",
			project: "acme",
			file:    &formFile{name: "notes.txt", contentType: "text/plain", data: []byte("hi")},
			code:    http.StatusBadRequest,
			message: "File format for notes.txt not supported, please upload a CSV or XLSX file.",
		},
		{
			name:    "already uploaded",
			project: "acme",
			file:    &formFile{name: "sales.csv", contentType: "text/csv", data: []byte(salesCSV)},
			code:    http.StatusBadRequest,
			message: "File sales.csv already exists in database.",
		},
		{
			name:    "still loading",
			project: "acme",
			file:    &formFile{name: "costs.csv", contentType: "text/csv", data: []byte("Item\n")},
			code:    http.StatusConflict,
			message: "File costs.csv is still being processed, try again later.",
		},
		{
			name:    "missing file",
			project: "acme",
			code:    http.StatusUnprocessableEntity,
			message: "Field required: file",
		},
		{
			name:    "missing project",
			file:    &formFile{name: "sales.csv", contentType: "text/csv", data: []byte(salesCSV)},
			code:    http.StatusUnprocessableEntity,
			message: "Field required: project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]string{}
			if tt.project != "" {
				fields["project_id"] = tt.project
			}
			rr, body := serve(env, multipartRequest(t, "/csv/upload_data", fields, tt.file))
			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestUploadData_InvalidProject(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/csv/upload_data", map[string]string{"project_id": "Acme Corp"},
		&formFile{name: "sales.csv", contentType: "text/csv", data: []byte(salesCSV)})
	rr, body := serve(env, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["message"], "Error uploading file sales.csv to Acme Corp database")
}

func TestRunSQLQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	rr, body := serve(env, formRequest("/csv/run_sql_query", map[string]string{"project_id": "acme", "query": "total?"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Query total? ran successfully on acme database.", body["message"])
	assert.Equal(t, map[string]interface{}{"success": true, "answer": "42"}, body["result"])
}

func TestRunSQLQuery_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.err = errors.New("model unavailable")
	rr, body := serve(env, formRequest("/csv/run_sql_query", map[string]string{"project_id": "acme", "query": "total?"}))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Error running query total? on acme database: model unavailable", body["message"])

	env.agent.err = base.ErrInvalidProjectID
	rr, _ = serve(env, formRequest("/csv/run_sql_query", map[string]string{"project_id": "acme", "query": "total?"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = serve(env, formRequest("/csv/run_sql_query", map[string]string{"project_id": "acme"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Field required: query", body["message"])
}

func TestDeleteData(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploads.records["f1"] = mongodb.Upload{ID: "f1", ProjectID: "acme", FileName: "sales.csv", TableName: "sales", Status: mongodb.StatusSuccess}
	env.prov.mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "sales"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	rr, body := serve(env, formRequest("/csv/delete_data", map[string]string{"project_id": "acme", "file_id": "f1"}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "File f1 deleted successfully from acme database.", body["message"])
	assert.Equal(t, true, body["result"])

	env.drain(t)
	_, ok := env.uploads.get("f1")
	assert.False(t, ok)

	rr, body = serve(env, formRequest("/csv/delete_data", map[string]string{"project_id": "acme", "file_id": "f1"}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "File f1 not found in acme database.", body["message"])
}

func TestListUploads(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploads.records["f1"] = mongodb.Upload{ID: "f1", ProjectID: "acme", FileName: "sales.csv", Status: mongodb.StatusSuccess}

	rr, body := serve(env, httptest.NewRequest(http.MethodGet, "/csv/uploads/acme", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	uploads, ok := body["uploads"].([]interface{})
	require.True(t, ok)
	require.Len(t, uploads, 1)
	assert.Equal(t, "sales.csv", uploads[0].(map[string]interface{})["file_name"])

	rr, body = serve(env, httptest.NewRequest(http.MethodGet, "/csv/uploads/globex", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []interface{}{}, body["uploads"])
}

func TestImageUploadQueryDelete(t *testing.T) {
	env := newTestEnv(t, nil)

	req := multipartRequest(t, "/images/upload", map[string]string{"project_id": "acme"},
		&formFile{name: "logo.png", contentType: "image/png", data: []byte{0x89, 'P', 'N', 'G'}})
	rr, body := serve(env, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])

	// Uploads finish in the background.
	require.Eventually(t, func() bool { return env.store.has("acme", "logo.png") }, time.Second, 10*time.Millisecond)

	rr, body = serve(env, formRequest("/images/run_image_query", map[string]string{"project_id": "acme", "query": "our logo", "user_id": "u1"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Query ran successfully.", body["message"])
	assert.Equal(t, "IMAGE_URL: https://blob.example.com/acme/logo.png?sig=x", body["result"])

	rr, body = serve(env, formRequest("/images/delete", map[string]string{"project_id": "acme", "file_id": "logo.png"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	env.drain(t)
	assert.False(t, env.store.has("acme", "logo.png"))
}

func TestImageUpload_RejectsFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/images/upload", map[string]string{"project_id": "acme"},
		&formFile{name: "anim.gif", contentType: "image/gif", data: []byte("GIF89a")})
	rr, body := serve(env, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "File format for anim.gif not supported, please upload a JPEG or PNG image.", body["message"])
}

func TestImageQuery_NoImages(t *testing.T) {
	env := newTestEnv(t, nil)
	rr, body := serve(env, formRequest("/images/run_image_query", map[string]string{"project_id": "acme", "query": "logo"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "No matching image found in database.", body["result"])
}

func TestImageRoutes_InvalidProject(t *testing.T) {
	env := newTestEnv(t, nil)

	req := multipartRequest(t, "/images/upload", map[string]string{"project_id": "Acme Corp"},
		&formFile{name: "logo.png", contentType: "image/png", data: []byte{0x89, 'P', 'N', 'G'}})
	rr, body := serve(env, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, body["success"])

	rr, body = serve(env, formRequest("/images/run_image_query", map[string]string{"project_id": "Acme Corp", "query": "logo"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["message"], "Error running query")

	rr, body = serve(env, formRequest("/images/delete", map[string]string{"project_id": "Acme Corp", "file_id": "logo.png"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, body["success"])
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, func(d *ServerDeps) {
		d.Auth = NewAuthenticator("s3cret")
	})
	query := map[string]string{"project_id": "acme", "query": "total?"}

	rr, body := serve(env, formRequest("/csv/run_sql_query", query))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Missing bearer token.", body["message"])

	req := formRequest("/csv/run_sql_query", query)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong", jwt.MapClaims{"sub": "alice"}))
	rr, body = serve(env, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid bearer token.", body["message"])

	req = formRequest("/csv/run_sql_query", query)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", jwt.MapClaims{"sub": "alice", "projects": []string{"globex"}}))
	rr, body = serve(env, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Access to project acme denied.", body["message"])

	req = formRequest("/csv/run_sql_query", query)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", jwt.MapClaims{"sub": "alice", "projects": "acme,globex"}))
	rr, _ = serve(env, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health stays open.
	rr, _ = serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitedQueries(t *testing.T) {
	env := newTestEnv(t, func(d *ServerDeps) {
		d.Limiter = NewMemoryRateLimiter(1, time.Minute)
	})
	query := map[string]string{"project_id": "acme", "query": "total?"}

	rr, _ := serve(env, formRequest("/csv/run_sql_query", query))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, body := serve(env, formRequest("/csv/run_sql_query", query))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "Rate limit exceeded for project acme.", body["message"])

	// Other projects have their own budget.
	rr, _ = serve(env, formRequest("/csv/run_sql_query", map[string]string{"project_id": "globex", "query": "total?"}))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rr, body := serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "tabula", body["service"])

	env = newTestEnv(t, func(d *ServerDeps) {
		d.Health["postgres"] = HealthCheckFunc(func(context.Context) (*base.HealthStatus, error) {
			return &base.HealthStatus{Healthy: false, Error: "connection refused"}, errors.New("connection refused")
		})
	})
	rr, body = serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "connection refused", components["postgres"].(map[string]interface{})["error"])
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	serve(env, httptest.NewRequest(http.MethodGet, "/csv/uploads/acme", nil))

	rr, body := serve(env, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	routes := body["routes"].(map[string]interface{})
	assert.Contains(t, routes, "/csv/uploads/{project_id}")

	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/prometheus", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `tabula_http_requests_total{code="200",route="/csv/uploads/{project_id}"} 1`)
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr, _ := serve(env, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}

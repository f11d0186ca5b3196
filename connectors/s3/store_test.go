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

package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>images</Name>
  <Prefix>acme/</Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>acme/logo.png</Key><Size>3</Size></Contents>
  <Contents><Key>acme/team.jpg</Key><Size>3</Size></Contents>
  <Contents><Key>acme/thumbs/logo.png</Key><Size>3</Size></Contents>
</ListBucketResult>`

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        string
}

type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
	})
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listResponse)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeS3) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		Bucket:          "images",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, fake
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNew_VerifiesBucket(t *testing.T) {
	_, fake := newTestStore(t)
	req := fake.last()
	if req.Method != http.MethodHead || req.Path != "/images" {
		t.Errorf("expected HEAD /images, got %s %s", req.Method, req.Path)
	}
}

func TestPut(t *testing.T) {
	s, fake := newTestStore(t)

	if err := s.Put(context.Background(), "acme", "logo.png", "image/png", []byte("png")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	req := fake.last()
	if req.Method != http.MethodPut || req.Path != "/images/acme/logo.png" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.ContentType != "image/png" {
		t.Errorf("content type = %q", req.ContentType)
	}
	if !strings.Contains(req.Body, "png") {
		t.Errorf("body = %q", req.Body)
	}
}

func TestPut_Forbidden(t *testing.T) {
	s, fake := newTestStore(t)
	fake.mu.Lock()
	fake.status = http.StatusForbidden
	fake.mu.Unlock()

	if err := s.Put(context.Background(), "acme", "logo.png", "image/png", []byte("png")); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestList(t *testing.T) {
	s, _ := newTestStore(t)

	names, err := s.List(context.Background(), "acme")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 || names[0] != "logo.png" || names[1] != "team.jpg" {
		t.Errorf("List = %v, want [logo.png team.jpg]", names)
	}
}

func TestDelete(t *testing.T) {
	s, fake := newTestStore(t)

	if err := s.Delete(context.Background(), "acme", "logo.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	req := fake.last()
	if req.Method != http.MethodDelete || req.Path != "/images/acme/logo.png" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
}

func TestSignedURL(t *testing.T) {
	s, _ := newTestStore(t)

	u, err := s.SignedURL(context.Background(), "acme", "logo.png", 15*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}
	for _, want := range []string{"/images/acme/logo.png", "X-Amz-Signature=", "X-Amz-Expires=900"} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %s missing %q", u, want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	s, fake := newTestStore(t)

	status, err := s.HealthCheck(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Healthy || status.Details["bucket"] != "images" {
		t.Errorf("unexpected status %+v", status)
	}

	fake.mu.Lock()
	fake.status = http.StatusForbidden
	fake.mu.Unlock()

	status, err = s.HealthCheck(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Healthy || status.Error == "" {
		t.Errorf("expected unhealthy status, got %+v", status)
	}
}

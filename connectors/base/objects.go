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

package base

import (
	"context"
	"strings"
	"time"
)

// ObjectStore keeps binary objects grouped by project, e.g. uploaded images.
type ObjectStore interface {
	Put(ctx context.Context, projectID, name, contentType string, data []byte) error
	List(ctx context.Context, projectID string) ([]string, error)
	SignedURL(ctx context.Context, projectID, name string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, projectID, name string) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Close() error
}

// ObjectPrefix is the key prefix under which a project's objects live.
func ObjectPrefix(projectID string) string {
	return projectID + "/"
}

// ObjectKey returns the storage key of name within projectID.
func ObjectKey(projectID, name string) string {
	return ObjectPrefix(projectID) + name
}

// ObjectName strips the project prefix from key. Keys outside the project,
// or in a nested "directory", report false.
func ObjectName(projectID, key string) (string, bool) {
	name, ok := strings.CutPrefix(key, ObjectPrefix(projectID))
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

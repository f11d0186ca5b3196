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

package sqlagent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery is returned for generated SQL that is not a single
// read-only SELECT.
var ErrUnsafeQuery = errors.New("generated SQL is not a single read-only SELECT")

var (
	stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	quotedIdent   = regexp.MustCompile(`"(?:[^"]|"")*"`)
	lineComment   = regexp.MustCompile(`--[^\n]*`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	leadingWord   = regexp.MustCompile(`^\s*([A-Za-z]+)`)
	forbiddenWord = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|into|pg_sleep|pg_read_file|pg_terminate_backend|lo_import|lo_export|dblink)\b`)
)

// ValidateSelect checks that stmt is one SELECT (or WITH ... SELECT) and
// returns it without a trailing semicolon.
func ValidateSelect(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}

	// Literals and comments can't hide keywords from the checks below.
	bare := stringLiteral.ReplaceAllString(stmt, "''")
	bare = quotedIdent.ReplaceAllString(bare, `""`)
	bare = blockComment.ReplaceAllString(bare, " ")
	bare = lineComment.ReplaceAllString(bare, " ")

	if strings.Contains(bare, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}

	m := leadingWord.FindStringSubmatch(bare)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsafeQuery, stmt)
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT", "WITH":
	default:
		return "", fmt.Errorf("%w: starts with %s", ErrUnsafeQuery, strings.ToUpper(m[1]))
	}

	if w := forbiddenWord.FindString(bare); w != "" {
		return "", fmt.Errorf("%w: contains %s", ErrUnsafeQuery, strings.ToUpper(w))
	}
	return stmt, nil
}

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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values; unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := decodeYAML(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	// Expand environment variables in the content
	expanded := expandEnvVars(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string
// Supports both ${VAR_NAME} and $VAR_NAME syntax, and ${VAR_NAME:-default}
// Returns empty string for undefined variables
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// GenerateExampleConfigFile returns a commented example configuration file.
func GenerateExampleConfigFile() string {
	return `# Tabula configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default}.
# Environment variables with the documented names override this file.

port: 8080
cors_origins: ["*"]

postgres:
  host: ${POSTGRES_HOST:-localhost}
  port: 5432
  user: postgres
  # password: ${POSTGRES_PASSWORD}
  # password_secret_arn: arn:aws:secretsmanager:us-east-1:123456789012:secret:tabula-pg
  default_db: postgres
  sslmode: disable
  max_open_conns: 10

retry:
  attempts: 3
  min: 1s
  max: 10s
  multiplier: 2

mongo:
  uri: ${MONGO_URI:-mongodb://localhost:27017}
  database: tabula
  collection: uploads

images:
  store: azure   # azure | s3 | gcs
  url_ttl: 1h
  azure:
    account_name: ${AZURE_STORAGE_ACCOUNT}
    container: images
    use_managed_identity: false
  s3:
    bucket: ${S3_BUCKET}
    region: ${AWS_REGION:-us-east-1}
  gcs:
    bucket: ${GCS_BUCKET}

llm:
  provider: openai   # openai | groq | azure-openai | anthropic
  model: gpt-4o-mini
  timeout: 120s

sql_agent:
  row_limit: 200
  query_timeout: 30s

redis:
  url: ${REDIS_URL}

rate_limit:
  requests: 60
  window: 1m
`
}

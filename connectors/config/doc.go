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

/*
Package config loads the service configuration.

# Sources

Values are resolved in three layers, later layers winning:

 1. Defaults()
 2. The YAML file named by TABULA_CONFIG_FILE, if set. The file may
    reference environment variables as ${VAR} or ${VAR:-default}.
 3. Environment variables such as POSTGRES_HOST, RETRY_ATTEMPTS, MONGO_URI,
    IMAGE_STORE, LLM_PROVIDER and REDIS_URL.

Durations in the environment accept bare seconds ("1.5") or Go durations
("1500ms"). RETRY_MIN, RETRY_MAX and RETRY_MULTIPLIER map onto the seed,
cap and growth factor of the retry policy.

# Secrets

POSTGRES_PASSWORD_SECRET_ARN names an AWS Secrets Manager secret holding
the database password. AWSSecretsManager caches fetched secrets in a
TTLCache so repeated lookups stay local.

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{})
	if err != nil {
	    log.Fatal(err)
	}
	if err := config.ResolvePostgresPassword(ctx, cfg, sm); err != nil {
	    log.Fatal(err)
	}
*/
package config

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
Command tabula runs the Tabula API: per-project spreadsheet uploads loaded
into PostgreSQL, image uploads kept in blob storage, and LLM agents that
answer questions over both.

# Usage

	tabula [-example-config]

# Configuration

Defaults are overridden by the YAML file named by TABULA_CONFIG_FILE, which
is in turn overridden by environment variables:

  - PORT: HTTP server port (default: 8080)
  - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD
  - POSTGRES_PASSWORD_SECRET_ARN: read the password from AWS Secrets Manager
  - MONGO_URI, MONGO_DB_DATABASE, MONGO_DB_COLLECTION
  - IMAGE_STORE: azure (default), s3 or gcs
  - LLM_PROVIDER: openai (default), groq, azure-openai or anthropic
  - REDIS_URL: share the rate limit across replicas
  - AUTH_JWT_SECRET: require HS256 bearer tokens

# Example

	export POSTGRES_PASSWORD=secret
	export AZURE_STORAGE_CONNECTION_STRING="DefaultEndpointsProtocol=https;..."
	export OPENAI_API_KEY="sk-..."
	./tabula
*/
package main

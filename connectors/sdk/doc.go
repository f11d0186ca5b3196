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

// Package sdk holds the retry policy shared by the connectors and the
// orchestrator.
//
// # Retry Logic
//
// Do runs an operation until it succeeds, the policy's attempts run out or
// the context ends. Delays grow exponentially from InitialInterval, capped at
// MaxInterval, with optional jitter:
//
//	policy := sdk.DefaultRetryPolicy().
//	    WithName("postgres.connect").
//	    WithClassifier(postgres.IsTransient)
//
//	db, err := sdk.Do(ctx, policy, func(ctx context.Context) (*sql.DB, error) {
//	    return openAndPing(ctx, dsn)
//	})
//
// An error wrapped with Permanent is returned at once. When every attempt
// fails, Do returns a *RetryError carrying the attempt count and the last
// error.
//
// Policies are values: WithName and WithClassifier return copies, so one
// configured policy can serve several call sites.
package sdk

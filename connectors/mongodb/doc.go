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

// Package mongodb stores upload metadata records in MongoDB.
//
// One document per uploaded file tracks its project, file name, target
// table and status. Status moves in_progress -> success | fail while the
// data is loaded, and success -> deleting before the record is removed.
package mongodb

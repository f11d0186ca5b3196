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

// Package azureblob stores project images in Azure Blob Storage.
//
// All projects share one container; a project's images live under the
// "<project_id>/" prefix. Read access is handed out as SAS URLs signed with
// the account key, or with a user delegation key when the store
// authenticates through managed identity.
//
// # Authentication
//
//   - Connection string
//   - Account name + access key
//   - Managed identity (DefaultAzureCredential)
//
// Azurite works through Config.ServiceURL or a development connection string.
package azureblob

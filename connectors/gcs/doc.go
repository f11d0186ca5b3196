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

// Package gcs stores project images in Google Cloud Storage.
//
// Images live in one bucket under the "<project_id>/" prefix and are shared
// as V4 signed URLs.
//
// # Authentication
//
//   - Service account key file or inline JSON
//   - Application Default Credentials, including workload identity
//
// Set Config.Endpoint to run against the GCS emulator.
package gcs

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

// Package s3 stores project images in Amazon S3 or an S3-compatible service
// such as MinIO or Cloudflare R2.
//
// Images live in a single bucket under the "<project_id>/" prefix and are
// shared as presigned GET URLs.
//
// # Authentication
//
//   - Static access keys, optionally with a session token
//   - The default AWS credential chain (environment, shared config, IAM role)
//
// # Configuration
//
//   - Bucket: required
//   - Region: defaults to us-east-1
//   - Endpoint, ForcePathStyle: for S3-compatible services
package s3

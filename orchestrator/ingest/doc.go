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

// Package ingest turns uploaded CSV and XLSX files into tables ready for
// loading into a project database.
//
// File names map to table names ("Sales 2024.csv" -> sales_2024) and
// headers are lowercased with spaces replaced by underscores. Anything that
// would not be a valid unquoted identifier is rewritten so the result is
// always accepted by the postgres loader.
package ingest

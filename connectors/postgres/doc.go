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

/*
Package postgres provisions and serves the per-project PostgreSQL databases.

# Overview

Every project owns one database named after its project id. The Provisioner
creates that database on first use and caches one *sql.DB pool per project
for the life of the process:

	p := postgres.NewProvisioner(postgres.Options{
	    Host:     "localhost",
	    Port:     "5432",
	    User:     "postgres",
	    Password: "secret",
	    AdminDB:  "postgres",
	})
	defer p.Close()

	db, err := p.EnsureDatabase(ctx, "acme")

Concurrent first calls for the same project serialize on that project's key
lock, so CREATE DATABASE runs at most once. Calls for different projects do
not wait on each other. The administrative pool used for CREATE DATABASE is
cached in the same registry under the admin database name.

# Retries

Opening and pinging a pool is retried with the configured sdk.RetryPolicy.
Only transient failures are retried: connection exceptions (SQLSTATE class
08), insufficient resources (53), server shutdown (57P01-57P03),
serialization failures and network errors. CREATE DATABASE is never retried;
a concurrent duplicate_database (42P04) is treated as "already exists".

# Tables

CreateTable, InsertRows and DropTable manage the TEXT-typed tables that hold
uploaded CSV and XLSX data. InsertRows streams rows with COPY inside one
transaction. DescribeSchema and QueryReadOnly serve the SQL agent.

# Thread Safety

Provisioner is safe for concurrent use. The underlying database/sql
connection pools handle concurrent access.
*/
package postgres

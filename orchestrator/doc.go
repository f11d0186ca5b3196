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
Package orchestrator provides the Tabula HTTP service: per-project
spreadsheet and image uploads answered by LLM agents.

# Overview

Each project owns a PostgreSQL database named after the project id. Uploaded
CSV and XLSX files become tables in that database, and questions are
answered by an agent that plans one read-only SELECT, runs it and phrases
the rows as prose. Images live in object storage under a project prefix and
are matched to questions by file name.

# Routes

	POST /csv/upload_data          form: project_id, file
	POST /csv/run_sql_query        form: project_id, query
	POST /csv/delete_data          form: project_id, file_id
	GET  /csv/uploads/{project_id}
	POST /images/upload            form: project_id, file
	POST /images/run_image_query   form: project_id, query, user_id
	POST /images/delete            form: project_id, file_id
	GET  /health
	GET  /metrics                  JSON route summary
	GET  /prometheus               Prometheus exposition

Upload and delete return once the request is validated; table loads, table
drops and blob writes finish in a background group that Shutdown drains.

# Concurrency

Three lock scopes keep projects independent:

  - TableService holds a per-project lock around metadata mutations, so two
    uploads of the same file cannot both pass the duplicate check.
  - The postgres provisioner creates each project database at most once.
  - The SQL agent caches one executor per project and rebuilds it when the
    provisioner replaces that project's pool.

None of them is held across a model call.

# Configuration

Configuration comes from defaults, an optional YAML file named by
TABULA_CONFIG_FILE and environment variables, in that order. See
connectors/config for the full list; the most common are:

	PORT                          HTTP port (default 8080)
	POSTGRES_HOST, POSTGRES_USER  server hosting the project databases
	POSTGRES_PASSWORD_SECRET_ARN  read the password from AWS Secrets Manager
	MONGO_URI                     upload metadata store
	IMAGE_STORE                   azure, s3 or gcs
	LLM_PROVIDER, LLM_MODEL       openai, anthropic, azure-openai or groq
	REDIS_URL                     shared rate limit window
	AUTH_JWT_SECRET               require HS256 bearer tokens

# Usage

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := orchestrator.Run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
*/
package orchestrator

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
Package base holds the error type, health report and input validation shared
by the storage connectors (Postgres, MongoDB and the blob stores).

# Errors

Connector failures are reported as *ConnectorError, which names the connector
and the operation and wraps the cause:

	return base.NewConnectorError("postgres", "EnsureDatabase", "create database failed", err)

Callers inspect the cause with errors.Is / errors.As. Caller input problems
wrap ErrInvalidProjectID or ErrInvalidName so the HTTP layer can map them to
400 responses.

# Validation

Project ids become Postgres database names, container names and key prefixes,
so they are restricted to lowercase identifiers:

	if err := base.ValidateProjectID(projectID); err != nil {
	    return err
	}

ValidateSQLIdentifier and ValidateFileName guard table names and uploaded
file names. SanitizeLogString strips control sequences before user input is
logged.
*/
package base

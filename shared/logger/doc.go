// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for Tabula components.

Every entry is a single JSON line on stdout carrying the component name,
deployment instance, container hostname, the project the work belongs to
and the request id:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"provisioner","instance_id":"i-abc123","container":"api-xyz",
	 "project_id":"acme","request_id":"req-456",
	 "message":"Database created","fields":{"database":"acme"}}

Usage:

	log := logger.New("api")
	log.Info("acme", reqID, "Upload accepted", map[string]interface{}{"file": name})
	log.ErrorWithCode("acme", reqID, "Query failed", 500, err, nil)

INSTANCE_ID is read from the environment; the container name comes from the
hostname. Logger instances are safe for concurrent use.
*/
package logger

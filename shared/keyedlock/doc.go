// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package keyedlock provides a registry of per-key mutual-exclusion locks.
//
// Tabula keeps two independent registries of this type. The resource layer
// (inside resourcecache) serializes creation of database engines and agent
// executors per project. The request layer (inside the HTTP API) serializes
// upload and delete bookkeeping per project. Holding one never implies
// holding the other.
//
//	locks := keyedlock.New[string]()
//	err := locks.Do(ctx, projectID, func() error {
//	    return store.MarkDeleting(ctx, fileID)
//	})
package keyedlock

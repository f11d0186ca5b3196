// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package resourcecache is a get-or-create registry for per-key resources.
//
// It backs both the per-project Postgres pools and the per-project SQL agent
// executors:
//
//	engines := resourcecache.New[string, *sql.DB]("pg_engines",
//	    resourcecache.WithCloser(func(_ string, db *sql.DB) error { return db.Close() }))
//	db, err := engines.GetOrCreate(ctx, projectID, openEngine)
//
// The cache is an explicitly constructed object; whoever builds it owns its
// lifetime and calls Close on shutdown. There is no TTL, eviction or size
// bound.
package resourcecache

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

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"axonflow/tabula/connectors/base"
)

// CreateTable creates table with one TEXT column per name. An existing
// table of the same name is replaced.
func CreateTable(ctx context.Context, db *sql.DB, table string, columns []string) error {
	if err := validateTable(table, columns); err != nil {
		return err
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pq.QuoteIdentifier(c) + " TEXT"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return base.NewConnectorError(connectorName, "CreateTable", "begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)); err != nil {
		return base.NewConnectorError(connectorName, "CreateTable", "drop existing table failed", err)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", pq.QuoteIdentifier(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return base.NewConnectorError(connectorName, "CreateTable", "create table failed", err)
	}
	if err := tx.Commit(); err != nil {
		return base.NewConnectorError(connectorName, "CreateTable", "commit failed", err)
	}
	return nil
}

// InsertRows copies rows into table inside one transaction. Each row must
// have len(columns) values; an empty string is stored as NULL.
func InsertRows(ctx context.Context, db *sql.DB, table string, columns []string, rows [][]string) (int64, error) {
	if err := validateTable(table, columns); err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, base.NewConnectorError(connectorName, "InsertRows", "begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return 0, base.NewConnectorError(connectorName, "InsertRows", "prepare copy failed", err)
	}

	args := make([]any, len(columns))
	var n int64
	for i, row := range rows {
		if len(row) != len(columns) {
			_ = stmt.Close()
			return 0, base.NewConnectorError(connectorName, "InsertRows",
				fmt.Sprintf("row %d has %d values, want %d", i+1, len(row), len(columns)), base.ErrInvalidName)
		}
		for j, v := range row {
			if v == "" {
				args[j] = nil
			} else {
				args[j] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			return 0, base.NewConnectorError(connectorName, "InsertRows", "copy row failed", err)
		}
		n++
	}

	// The final Exec flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, base.NewConnectorError(connectorName, "InsertRows", "copy flush failed", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, base.NewConnectorError(connectorName, "InsertRows", "copy close failed", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, base.NewConnectorError(connectorName, "InsertRows", "commit failed", err)
	}
	return n, nil
}

// DropTable removes table if it exists.
func DropTable(ctx context.Context, db *sql.DB, table string) error {
	if err := base.ValidateSQLIdentifier(table); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)); err != nil {
		return base.NewConnectorError(connectorName, "DropTable", "drop table failed", err)
	}
	return nil
}

func validateTable(table string, columns []string) error {
	if err := base.ValidateSQLIdentifier(table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: table %q has no columns", base.ErrInvalidName, table)
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return fmt.Errorf("%w: empty column name in %q", base.ErrInvalidName, table)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate column %q in %q", base.ErrInvalidName, c, table)
		}
		seen[c] = true
	}
	return nil
}

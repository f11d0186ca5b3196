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
	"time"

	"axonflow/tabula/connectors/base"
)

// Column describes one column of a user table.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// Table describes one table in the public schema.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// QueryResult contains the rows of a read-only query.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Duration  time.Duration    `json:"duration"`
}

const describeSchemaQuery = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`

// DescribeSchema lists the public tables and their columns.
func DescribeSchema(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, describeSchemaQuery)
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "DescribeSchema", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, base.NewConnectorError(connectorName, "DescribeSchema", "failed to scan row", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != table {
			tables = append(tables, Table{Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: column, DataType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(connectorName, "DescribeSchema", "error during row iteration", err)
	}
	return tables, nil
}

// QueryReadOnly runs statement in a read-only transaction and returns at
// most limit rows. The transaction is always rolled back.
func QueryReadOnly(ctx context.Context, db *sql.DB, statement string, limit int) (*QueryResult, error) {
	start := time.Now()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Query", "begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Query", "query execution failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, base.NewConnectorError(connectorName, "Query", "failed to get columns", err)
	}

	result := &QueryResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, base.NewConnectorError(connectorName, "Query", "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			// Convert []byte to string for text/varchar fields
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(connectorName, "Query", "error during row iteration", err)
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)
	return result, nil
}

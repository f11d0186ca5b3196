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

package sqlagent

import (
	"errors"
	"testing"
)

func TestValidateSelect(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		want    string
		wantErr bool
	}{
		{"simple select", "SELECT * FROM sales", "SELECT * FROM sales", false},
		{"trailing semicolon", "  select region from sales;  ", "select region from sales", false},
		{"cte", "WITH t AS (SELECT 1 AS n) SELECT n FROM t", "WITH t AS (SELECT 1 AS n) SELECT n FROM t", false},
		{"keyword in literal", "SELECT * FROM notes WHERE body = 'drop table; delete'", "SELECT * FROM notes WHERE body = 'drop table; delete'", false},
		{"keyword as quoted column", `SELECT "update" FROM audit`, `SELECT "update" FROM audit`, false},
		{"column containing keyword", "SELECT updated_at, created_by FROM audit", "SELECT updated_at, created_by FROM audit", false},
		{"empty", "   ;", "", true},
		{"delete", "DELETE FROM sales", "", true},
		{"stacked statements", "SELECT 1; DROP TABLE sales", "", true},
		{"select into", "SELECT * INTO copy FROM sales", "", true},
		{"cte with delete", "WITH gone AS (DELETE FROM sales RETURNING *) SELECT * FROM gone", "", true},
		{"sleep", "SELECT pg_sleep(10)", "", true},
		{"comment hides start", "/* SELECT */ DROP TABLE sales", "", true},
		{"no keyword", "(SELECT 1)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSelect(tt.stmt)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafeQuery) {
					t.Fatalf("ValidateSelect(%q) error = %v, want ErrUnsafeQuery", tt.stmt, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateSelect(%q) unexpected error: %v", tt.stmt, err)
			}
			if got != tt.want {
				t.Errorf("ValidateSelect(%q) = %q, want %q", tt.stmt, got, tt.want)
			}
		})
	}
}

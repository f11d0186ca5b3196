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

package base

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	// maxIdentifierLength is Postgres' NAMEDATALEN - 1.
	maxIdentifierLength = 63
	maxLogLength        = 500
)

var (
	ansiRegex       = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	projectIDRegex  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// reservedDatabases cannot be used as project ids.
var reservedDatabases = map[string]bool{
	"postgres":  true,
	"template0": true,
	"template1": true,
}

// SanitizeLogString removes or escapes characters that could be used for log injection
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiRegex.ReplaceAllString(s, "")
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

// ValidateProjectID checks that id can be used verbatim as a database name,
// blob container prefix and metadata key. adminDB, when non-empty, is also
// rejected.
func ValidateProjectID(id, adminDB string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidProjectID)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidProjectID, id, maxIdentifierLength)
	}
	if !projectIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q must be lowercase letters, digits and underscores", ErrInvalidProjectID, id)
	}
	if reservedDatabases[id] || (adminDB != "" && id == adminDB) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidProjectID, id)
	}
	return nil
}

// ValidateSQLIdentifier checks if a string is safe to use as a SQL identifier
// (table name, column name, etc.) to prevent SQL injection
func ValidateSQLIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier cannot be empty", ErrInvalidName)
	}
	if len(identifier) > maxIdentifierLength {
		return fmt.Errorf("%w: identifier %q is too long", ErrInvalidName, identifier)
	}
	if !identifierRegex.MatchString(identifier) {
		return fmt.Errorf("%w: invalid SQL identifier %q", ErrInvalidName, identifier)
	}

	reserved := []string{
		"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
		"TABLE", "DATABASE", "INDEX", "FROM", "WHERE", "AND", "OR", "NOT",
		"NULL", "TRUE", "FALSE", "JOIN", "ON", "AS", "ORDER", "BY", "GROUP",
		"HAVING", "UNION", "ALL", "DISTINCT", "LIMIT", "OFFSET", "INTO",
		"VALUES", "SET", "GRANT", "REVOKE", "TRUNCATE", "CASCADE",
	}
	upperIdentifier := strings.ToUpper(identifier)
	for _, word := range reserved {
		if upperIdentifier == word {
			return fmt.Errorf("%w: identifier %q is a SQL reserved word", ErrInvalidName, identifier)
		}
	}

	return nil
}

// ValidateFileName checks an uploaded file name: a single path element with
// no traversal or null bytes.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: file name cannot be empty", ErrInvalidName)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: null bytes not allowed in file name", ErrInvalidName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: path traversal not allowed: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || path.Base(name) != name {
		return fmt.Errorf("%w: file name must not contain a path: %q", ErrInvalidName, name)
	}
	return nil
}

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
	"errors"
	"strings"
	"testing"
)

func TestSanitizeLogString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "acme", "acme"},
		{"newlines", "a\nb\rc", `a\nb\rc`},
		{"ansi", "\x1b[31mred\x1b[0m", "red"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLogString(tt.input); got != tt.want {
				t.Errorf("SanitizeLogString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	long := SanitizeLogString(strings.Repeat("x", 600))
	if !strings.HasSuffix(long, "...[truncated]") || len(long) != 500+len("...[truncated]") {
		t.Errorf("long input not truncated: len=%d", len(long))
	}
}

func TestValidateProjectID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"acme", false},
		{"globex_2024", false},
		{"_internal", false},
		{"", true},
		{"Acme", true},
		{"acme-corp", true},
		{"1acme", true},
		{"acme; DROP DATABASE x", true},
		{"postgres", true},
		{"template0", true},
		{"template1", true},
		{"admin", true},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 63), false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateProjectID(tt.id, "admin")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateProjectID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProjectID) {
				t.Errorf("error should wrap ErrInvalidProjectID: %v", err)
			}
		})
	}
}

func TestValidateSQLIdentifier(t *testing.T) {
	tests := []struct {
		identifier string
		wantErr    bool
	}{
		{"sales_2024", false},
		{"_tmp", false},
		{"", true},
		{"2024_sales", true},
		{"sales-2024", true},
		{"select", true},
		{"Drop", true},
		{strings.Repeat("t", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			err := ValidateSQLIdentifier(tt.identifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSQLIdentifier(%q) error = %v, wantErr %v", tt.identifier, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error should wrap ErrInvalidName: %v", err)
			}
		})
	}
}

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"sales 2024.csv", false},
		{"logo.png", false},
		{"", true},
		{"../etc/passwd", true},
		{"dir/file.csv", true},
		{`dir\file.csv`, true},
		{"bad\x00.csv", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

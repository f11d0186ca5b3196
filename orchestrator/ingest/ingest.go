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

package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"axonflow/tabula/connectors/base"
)

// FileType is a supported tabular upload format.
type FileType string

const (
	CSV  FileType = "csv"
	XLSX FileType = "xlsx"
)

var (
	// ErrUnsupportedFileType is returned for anything but .csv and .xlsx.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrEmptyFile is returned when a file has no header row.
	ErrEmptyFile = errors.New("file has no header row")
)

// Table is a parsed upload: normalized column names and text cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// DetectFileType returns the format implied by fileName's extension.
func DetectFileType(fileName string) (FileType, error) {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return CSV, nil
	case strings.HasSuffix(lower, ".xlsx"):
		return XLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, fileName)
}

// TableName derives the SQL table for fileName: the part before the first
// dot, lowercased, with spaces turned into underscores.
func TableName(fileName string) (string, error) {
	stem, _, _ := strings.Cut(fileName, ".")
	name := sanitize(strings.ReplaceAll(strings.ToLower(stem), " ", "_"))
	if name == "" {
		return "", fmt.Errorf("%w: no table name in %q", base.ErrInvalidName, fileName)
	}
	name = safeIdentifier(name, "t_")
	if err := base.ValidateSQLIdentifier(name); err != nil {
		return "", err
	}
	return name, nil
}

// NormalizeColumns lowercases headers and replaces spaces with underscores.
// Blank headers become column_<n>; repeats get a numeric suffix.
func NormalizeColumns(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, h := range headers {
		name := sanitize(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		name = safeIdentifier(name, "c_")
		if seen[name] > 0 {
			for n := seen[name] + 1; ; n++ {
				candidate := truncate(name, 59) + "_" + strconv.Itoa(n)
				if seen[candidate] == 0 {
					seen[name] = n
					name = candidate
					break
				}
			}
		}
		seen[name]++
		out[i] = name
	}
	return out
}

// sanitize maps anything outside [a-z0-9_] to an underscore.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLower(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// safeIdentifier prefixes names that start with a digit and suffixes SQL
// reserved words, then trims to the identifier limit.
func safeIdentifier(name, digitPrefix string) string {
	if name[0] >= '0' && name[0] <= '9' {
		name = digitPrefix + name
	}
	name = truncate(name, 63)
	if err := base.ValidateSQLIdentifier(name); err != nil && len(name) < 63 {
		name += "_"
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Parse reads a CSV or XLSX upload into a Table named after fileName.
func Parse(fileName string, data []byte) (*Table, error) {
	fileType, err := DetectFileType(fileName)
	if err != nil {
		return nil, err
	}
	name, err := TableName(fileName)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch fileType {
	case CSV:
		records, err = readCSV(data)
	case XLSX:
		records, err = readXLSX(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}

	records = dropBlankRows(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("parse %s: %w", fileName, ErrEmptyFile)
	}

	columns := NormalizeColumns(records[0])
	rows := make([][]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) > len(columns) {
			if !trailingBlank(rec[len(columns):]) {
				return nil, fmt.Errorf("parse %s: row %d has %d fields, header has %d", fileName, i+2, len(rec), len(columns))
			}
			rec = rec[:len(columns)]
		}
		for len(rec) < len(columns) {
			rec = append(rec, "")
		}
		rows = append(rows, rec)
	}

	return &Table{Name: name, Columns: columns, Rows: rows}, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// readXLSX returns the rows of the first sheet.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	return f.GetRows(sheets[0])
}

func dropBlankRows(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		if !trailingBlank(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func trailingBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

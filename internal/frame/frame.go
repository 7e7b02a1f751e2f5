// Package frame is a small column-typed tidy-table layer: CSV in and out,
// key joins, and wide-to-long pivots. It deliberately keeps cells as strings;
// typed interpretation belongs to the domain ingest code.
package frame

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"narpstat/domain/core"
)

// Frame is an ordered set of named columns over string cells
type Frame struct {
	Headers []string
	Rows    []map[string]string
}

// New creates an empty frame with the given header order
func New(headers ...string) *Frame {
	return &Frame{Headers: headers}
}

// Append adds one row; missing cells default to ""
func (f *Frame) Append(row map[string]string) {
	f.Rows = append(f.Rows, row)
}

// HasColumn reports whether the frame carries the named column
func (f *Frame) HasColumn(name string) bool {
	for _, h := range f.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// ReadCSV loads a CSV file with a header row into a frame
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, core.NewValidationError("csv", fmt.Sprintf("%s has no header row", path))
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	frame := &Frame{Headers: headers}
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, cell := range record {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(cell)
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// WriteCSV writes the frame to path in header order
func (f *Frame) WriteCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(f.Headers); err != nil {
		return err
	}
	record := make([]string, len(f.Headers))
	for _, row := range f.Rows {
		for i, h := range f.Headers {
			record[i] = row[h]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Bytes serializes the frame as CSV in memory (used for fingerprinting)
func (f *Frame) Bytes() ([]byte, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	if err := writer.Write(f.Headers); err != nil {
		return nil, err
	}
	record := make([]string, len(f.Headers))
	for _, row := range f.Rows {
		for i, h := range f.Headers {
			record[i] = row[h]
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// JoinResult accounts for a left join
type JoinResult struct {
	Matched   int
	LeftOnly  int
	RightOnly int
}

// LeftJoin joins other onto f by the shared key column. Every row of f
// survives; columns of other (key excluded) are appended, empty when the key
// has no match. Duplicate keys on the right are an error: the merge keys of
// this pipeline identify rows uniquely.
func (f *Frame) LeftJoin(other *Frame, key string) (*Frame, JoinResult, error) {
	if !f.HasColumn(key) || !other.HasColumn(key) {
		return nil, JoinResult{}, core.NewValidationError("join", fmt.Sprintf("key column %q missing", key))
	}

	right := make(map[string]map[string]string, len(other.Rows))
	for _, row := range other.Rows {
		k := row[key]
		if _, exists := right[k]; exists {
			return nil, JoinResult{}, core.NewValidationError("join", fmt.Sprintf("duplicate key %q on right side", k))
		}
		right[k] = row
	}

	headers := append([]string{}, f.Headers...)
	for _, h := range other.Headers {
		if h != key {
			headers = append(headers, h)
		}
	}

	joined := &Frame{Headers: headers}
	var result JoinResult
	usedRight := make(map[string]bool)
	for _, row := range f.Rows {
		out := make(map[string]string, len(headers))
		for k, v := range row {
			out[k] = v
		}
		if match, ok := right[row[key]]; ok {
			for _, h := range other.Headers {
				if h != key {
					out[h] = match[h]
				}
			}
			usedRight[row[key]] = true
			result.Matched++
		} else {
			result.LeftOnly++
		}
		joined.Rows = append(joined.Rows, out)
	}
	result.RightOnly = len(right) - len(usedRight)
	return joined, result, nil
}

// Pivot melts value columns into long form: each input row becomes one output
// row per value column, with the column name under varName and the cell under
// valueName. idCols are carried through unchanged.
func (f *Frame) Pivot(idCols []string, valueCols []string, varName, valueName string) (*Frame, error) {
	for _, c := range append(append([]string{}, idCols...), valueCols...) {
		if !f.HasColumn(c) {
			return nil, core.NewValidationError("pivot", fmt.Sprintf("column %q missing", c))
		}
	}

	headers := append(append([]string{}, idCols...), varName, valueName)
	long := &Frame{Headers: headers}
	for _, row := range f.Rows {
		for _, vc := range valueCols {
			out := make(map[string]string, len(headers))
			for _, id := range idCols {
				out[id] = row[id]
			}
			out[varName] = vc
			out[valueName] = row[vc]
			long.Rows = append(long.Rows, out)
		}
	}
	return long, nil
}

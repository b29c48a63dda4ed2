package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads a header row followed by data rows. Every field is a valid
// string, including empty ones; ragged rows are accepted as-is.
func ReadCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("csv is empty")
		}
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(headers))
	for i, header := range headers {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	out := Table{Columns: columns, Rows: make([][]Value, 0)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv row %d: %w", len(out.Rows)+1, err)
		}
		row := make([]Value, len(record))
		for i, field := range record {
			row[i] = Str(field)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// WriteCSV writes nulls as empty fields.
func WriteCSV(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, value := range row {
			if value.Valid {
				record[i] = value.String
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

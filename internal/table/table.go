// Package table holds the small tabular model shared by the census client,
// the aligners and the exporters. Cells are nullable strings; callers that
// need numbers convert at the edge.
package table

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a nullable cell.
type Value struct {
	String string
	Valid  bool
}

func Str(s string) Value {
	return Value{String: s, Valid: true}
}

func Null() Value {
	return Value{}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.String)
}

func (v *Value) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*v = Value{}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("table value must be a string or null: %w", err)
	}
	*v = Str(s)
	return nil
}

// Scan implements sql.Scanner so query results can land directly in a Table.
func (v *Value) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = Str(typed)
	case []byte:
		*v = Str(string(typed))
	default:
		*v = Str(fmt.Sprint(typed))
	}
	return nil
}

func (v Value) Value() (driver.Value, error) {
	if !v.Valid {
		return nil, nil
	}
	return v.String, nil
}

type Table struct {
	Columns []string  `json:"columns"`
	Rows    [][]Value `json:"rows"`
}

func (t Table) NumRows() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

// Column returns every cell of the named column. Rows shorter than the
// header yield nulls.
func (t Table) Column(name string) ([]Value, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found; columns are %s", name, strings.Join(t.Columns, ", "))
	}
	values := make([]Value, 0, len(t.Rows))
	for _, row := range t.Rows {
		values = append(values, cell(row, idx))
	}
	return values, nil
}

// Distinct returns the non-null, non-empty values of a column in first-seen order.
func (t Table) Distinct(name string) ([]string, error) {
	values, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0)
	for _, value := range values {
		if !value.Valid || strings.TrimSpace(value.String) == "" {
			continue
		}
		if _, ok := seen[value.String]; ok {
			continue
		}
		seen[value.String] = struct{}{}
		out = append(out, value.String)
	}
	return out, nil
}

// Aligner appends the columns of secondary to primary, matching rows on
// the two key columns with left-join semantics.
type Aligner interface {
	Align(ctx context.Context, primary Table, primaryKey string, secondary Table, secondaryKey string) (Table, error)
}

func cell(row []Value, idx int) Value {
	if idx < 0 || idx >= len(row) {
		return Value{}
	}
	return row[idx]
}

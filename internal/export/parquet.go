// Package export encodes tables as Parquet and publishes them to the object
// store.
package export

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/encoding"

	"github.com/aligncensus/aligncensus/internal/table"
)

const ParquetContentType = "application/vnd.apache.parquet"

type ParquetResult struct {
	Data        []byte
	RecordCount int64
	Columns     []string
}

// EncodeParquet writes every column of t as an optional UTF-8 string. Null
// cells and cells missing from short rows are written as nulls.
func EncodeParquet(t table.Table) (ParquetResult, error) {
	if len(t.Columns) == 0 {
		return ParquetResult{}, fmt.Errorf("table has no columns")
	}

	group := &columnGroup{fields: make([]parquet.Field, 0, len(t.Columns))}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, column := range t.Columns {
		if strings.TrimSpace(column) == "" {
			return ParquetResult{}, fmt.Errorf("column names must not be empty")
		}
		if _, exists := seen[column]; exists {
			return ParquetResult{}, fmt.Errorf("duplicate column %q", column)
		}
		seen[column] = struct{}{}
		group.fields = append(group.fields, &columnField{Node: parquet.Optional(parquet.String()), name: column})
	}
	schema := parquet.NewSchema("aligned", group)

	rows := make([]parquet.Row, 0, len(t.Rows))
	for _, source := range t.Rows {
		row := make(parquet.Row, len(t.Columns))
		for leaf := range t.Columns {
			cell := table.Null()
			if leaf < len(source) {
				cell = source[leaf]
			}
			if cell.Valid {
				row[leaf] = parquet.ValueOf(cell.String).Level(0, 1, leaf)
			} else {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
			}
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return ParquetResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		Columns:     append([]string(nil), t.Columns...),
	}, nil
}

// columnGroup is a required parquet group whose fields keep table column
// order. parquet.Group sorts its fields by name.
type columnGroup struct {
	fields []parquet.Field
}

func (g *columnGroup) ID() int { return 0 }

func (g *columnGroup) String() string {
	var b strings.Builder
	_ = parquet.PrintSchema(&b, "", g)
	return b.String()
}

func (g *columnGroup) Type() parquet.Type { return parquet.Group{}.Type() }

func (g *columnGroup) Optional() bool { return false }

func (g *columnGroup) Repeated() bool { return false }

func (g *columnGroup) Required() bool { return true }

func (g *columnGroup) Leaf() bool { return false }

func (g *columnGroup) Fields() []parquet.Field { return g.fields }

func (g *columnGroup) Encoding() encoding.Encoding { return nil }

func (g *columnGroup) Compression() compress.Codec { return nil }

// GoType is a map keyed by column name; rows are written as parquet.Row so
// no struct mapping is needed.
func (g *columnGroup) GoType() reflect.Type { return reflect.TypeOf(map[string]*string(nil)) }

type columnField struct {
	parquet.Node
	name string
}

func (f *columnField) Name() string { return f.name }

func (f *columnField) Value(base reflect.Value) reflect.Value {
	if base.Kind() != reflect.Map {
		return reflect.Value{}
	}
	return base.MapIndex(reflect.ValueOf(f.name))
}

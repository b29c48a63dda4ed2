package duckdb

import (
	"context"
	"reflect"
	"testing"

	"github.com/aligncensus/aligncensus/internal/table"
)

func TestAlignMatchesInMemoryLeftJoin(t *testing.T) {
	primary := table.Table{
		Columns: []string{"postcode", "borough"},
		Rows: [][]table.Value{
			{table.Str("10002"), table.Str("Manhattan")},
			{table.Str("11201"), table.Str("Brooklyn")},
			{table.Null(), table.Str("unknown")},
			{table.Str("10001"), table.Str("Manhattan")},
		},
	}
	secondary := table.Table{
		Columns: []string{"PAYQTR1", "zipcode"},
		Rows: [][]table.Value{
			{table.Str("100"), table.Str("10001")},
			{table.Str("200"), table.Str("10002")},
			{table.Str("201"), table.Str("10002")},
			{table.Null(), table.Str("99999")},
		},
	}

	want, err := table.NewLeftJoin().Align(context.Background(), primary, "postcode", secondary, "zipcode")
	if err != nil {
		t.Fatalf("LeftJoin.Align() error = %v", err)
	}
	got, err := NewAligner().Align(context.Background(), primary, "postcode", secondary, "zipcode")
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Align() = %#v\nwant %#v", got, want)
	}
}

func TestAlignSpecExample(t *testing.T) {
	primary := table.Table{Columns: []string{"key"}, Rows: [][]table.Value{{table.Str("A")}, {table.Str("B")}}}
	secondary := table.Table{Columns: []string{"key", "val"}, Rows: [][]table.Value{{table.Str("A"), table.Str("1")}}}

	got, err := NewAligner().Align(context.Background(), primary, "key", secondary, "key")
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	want := [][]table.Value{
		{table.Str("A"), table.Str("1")},
		{table.Str("B"), table.Null()},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Fatalf("rows = %#v", got.Rows)
	}
}

func TestAlignWithEmptySecondary(t *testing.T) {
	primary := table.Table{Columns: []string{"key"}, Rows: [][]table.Value{{table.Str("A")}}}
	secondary := table.Table{Columns: []string{"key", "val"}}

	got, err := NewAligner().Align(context.Background(), primary, "key", secondary, "key")
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	if got.NumRows() != 1 || got.Rows[0][1].Valid {
		t.Fatalf("rows = %#v", got.Rows)
	}
}

func TestAlignRejectsUnknownKey(t *testing.T) {
	primary := table.Table{Columns: []string{"key"}}
	if _, err := NewAligner().Align(context.Background(), primary, "nope", primary, "key"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

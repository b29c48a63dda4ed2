package table

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffpostcode, name\n10001,Chelsea\n10002,\n10003\n"
	got, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if strings.Join(got.Columns, "|") != "postcode|name" {
		t.Fatalf("Columns = %q", got.Columns)
	}
	if got.NumRows() != 3 {
		t.Fatalf("rows = %d", got.NumRows())
	}
	if got.Rows[1][1] != Str("") {
		t.Fatalf("empty field should be a valid empty string, got %#v", got.Rows[1][1])
	}
	if len(got.Rows[2]) != 1 {
		t.Fatalf("ragged row = %#v", got.Rows[2])
	}
}

func TestReadCSVRejectsEmptyInput(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestWriteCSVWritesNullsAsEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, Table{
		Columns: []string{"zip", "PAYQTR1"},
		Rows:    [][]Value{{Str("10001"), Null()}, {Str("10002"), Str("4,5")}},
	})
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "zip,PAYQTR1\n10001,\n10002,\"4,5\"\n"
	if buf.String() != want {
		t.Fatalf("WriteCSV() = %q, want %q", buf.String(), want)
	}
}

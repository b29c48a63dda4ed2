// Package duckdb runs dataset alignment as a LEFT JOIN inside an in-process
// DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/aligncensus/aligncensus/internal/table"
)

const ordinalColumn = "__ordinal"

type Aligner struct{}

func NewAligner() *Aligner {
	return &Aligner{}
}

// Align produces the same rows, in the same order, as table.LeftJoin.
func (a *Aligner) Align(ctx context.Context, primary table.Table, primaryKey string, secondary table.Table, secondaryKey string) (table.Table, error) {
	plan, err := table.PlanJoin(primary, primaryKey, secondary, secondaryKey)
	if err != nil {
		return table.Table{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return table.Table{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return table.Table{}, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := loadTable(ctx, conn, "primary_rows", "p", primary); err != nil {
		return table.Table{}, err
	}
	if err := loadTable(ctx, conn, "secondary_rows", "s", secondary); err != nil {
		return table.Table{}, err
	}

	selectList := make([]string, 0, len(plan.Columns))
	for i := range primary.Columns {
		selectList = append(selectList, "p."+quoteIdent(columnName("p", i)))
	}
	for _, i := range plan.SecondaryColumns {
		selectList = append(selectList, "s."+quoteIdent(columnName("s", i)))
	}
	joinSQL := fmt.Sprintf(
		`SELECT %s FROM primary_rows p LEFT JOIN secondary_rows s ON p.%s = s.%s ORDER BY p.%s, s.%s`,
		strings.Join(selectList, ", "),
		quoteIdent(columnName("p", plan.PrimaryKeyIndex)),
		quoteIdent(columnName("s", plan.SecondaryKeyIndex)),
		quoteIdent(ordinalColumn),
		quoteIdent(ordinalColumn),
	)

	rows, err := conn.QueryContext(ctx, joinSQL)
	if err != nil {
		return table.Table{}, fmt.Errorf("execute join: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := table.Table{Columns: plan.Columns, Rows: make([][]table.Value, 0, len(primary.Rows))}
	for rows.Next() {
		values := make([]table.Value, len(plan.Columns))
		scanTargets := make([]any, len(values))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return table.Table{}, fmt.Errorf("scan row: %w", err)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return table.Table{}, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// loadTable copies t into a VARCHAR table. Columns are named by position so
// arbitrary header text never reaches the SQL.
func loadTable(ctx context.Context, conn *sql.Conn, name, prefix string, t table.Table) error {
	defs := make([]string, 0, len(t.Columns)+1)
	defs = append(defs, quoteIdent(ordinalColumn)+" BIGINT")
	for i := range t.Columns {
		defs = append(defs, quoteIdent(columnName(prefix, i))+" VARCHAR")
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(t.Columns)+1)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("prepare load %q: %w", name, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(t.Columns)+1)
	for ordinal, row := range t.Rows {
		args[0] = int64(ordinal)
		for i := range t.Columns {
			var value table.Value
			if i < len(row) {
				value = row[i]
			}
			if value.Valid {
				args[i+1] = value.String
			} else {
				args[i+1] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("load row %d into %q: %w", ordinal, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load %q: %w", name, err)
	}
	return nil
}

func columnName(prefix string, index int) string {
	return fmt.Sprintf("%s%d", prefix, index)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

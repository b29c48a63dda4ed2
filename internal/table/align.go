package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJoin marks joins rejected before any row is read.
var ErrInvalidJoin = errors.New("invalid join")

// JoinPlan is the validated shape of a left join. Both aligners build one
// so they agree on output columns and on which inputs are rejected.
type JoinPlan struct {
	PrimaryKeyIndex   int
	SecondaryKeyIndex int
	// SecondaryColumns are the secondary column positions appended to each
	// primary row, in secondary order, without the key.
	SecondaryColumns []int
	Columns          []string
}

func PlanJoin(primary Table, primaryKey string, secondary Table, secondaryKey string) (JoinPlan, error) {
	if strings.TrimSpace(primaryKey) == "" {
		return JoinPlan{}, fmt.Errorf("%w: primary key column is required", ErrInvalidJoin)
	}
	if strings.TrimSpace(secondaryKey) == "" {
		return JoinPlan{}, fmt.Errorf("%w: secondary key column is required", ErrInvalidJoin)
	}
	pk := primary.ColumnIndex(primaryKey)
	if pk < 0 {
		return JoinPlan{}, fmt.Errorf("%w: primary key column %q not found", ErrInvalidJoin, primaryKey)
	}
	sk := secondary.ColumnIndex(secondaryKey)
	if sk < 0 {
		return JoinPlan{}, fmt.Errorf("%w: secondary key column %q not found", ErrInvalidJoin, secondaryKey)
	}

	existing := make(map[string]struct{}, len(primary.Columns))
	for _, column := range primary.Columns {
		existing[column] = struct{}{}
	}

	plan := JoinPlan{
		PrimaryKeyIndex:   pk,
		SecondaryKeyIndex: sk,
		Columns:           append([]string(nil), primary.Columns...),
	}
	var overlap []string
	for i, column := range secondary.Columns {
		if i == sk {
			continue
		}
		if _, ok := existing[column]; ok {
			overlap = append(overlap, column)
			continue
		}
		existing[column] = struct{}{}
		plan.SecondaryColumns = append(plan.SecondaryColumns, i)
		plan.Columns = append(plan.Columns, column)
	}
	if len(overlap) > 0 {
		return JoinPlan{}, fmt.Errorf("%w: columns overlap between tables: %s", ErrInvalidJoin, strings.Join(overlap, ", "))
	}
	return plan, nil
}

// LeftJoin aligns two tables in memory.
type LeftJoin struct{}

func NewLeftJoin() *LeftJoin {
	return &LeftJoin{}
}

// Align keeps every primary row in order. A primary row with k secondary
// matches appears k times, once per match in secondary order; with no match
// the appended cells are null. Keys compare by exact string equality and a
// null key matches nothing.
func (LeftJoin) Align(ctx context.Context, primary Table, primaryKey string, secondary Table, secondaryKey string) (Table, error) {
	plan, err := PlanJoin(primary, primaryKey, secondary, secondaryKey)
	if err != nil {
		return Table{}, err
	}

	index := make(map[string][]int, len(secondary.Rows))
	for i, row := range secondary.Rows {
		key := cell(row, plan.SecondaryKeyIndex)
		if !key.Valid {
			continue
		}
		index[key.String] = append(index[key.String], i)
	}

	out := Table{Columns: plan.Columns, Rows: make([][]Value, 0, len(primary.Rows))}
	for i, row := range primary.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Table{}, err
			}
		}
		base := make([]Value, len(primary.Columns))
		copy(base, row)

		key := cell(row, plan.PrimaryKeyIndex)
		var matches []int
		if key.Valid {
			matches = index[key.String]
		}
		if len(matches) == 0 {
			out.Rows = append(out.Rows, append(base, make([]Value, len(plan.SecondaryColumns))...))
			continue
		}
		for _, match := range matches {
			joined := make([]Value, 0, len(plan.Columns))
			joined = append(joined, base...)
			for _, col := range plan.SecondaryColumns {
				joined = append(joined, cell(secondary.Rows[match], col))
			}
			out.Rows = append(out.Rows, joined)
		}
	}
	return out, nil
}

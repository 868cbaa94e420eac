package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
)

// upsert renders multi-row INSERT ... ON CONFLICT statements that only touch a
// conflicting row when at least one non-key column differs.
type upsert struct {
	table    string
	columns  []string
	key      []string
	literals map[string]string // column -> SQL literal used instead of a placeholder
	casts    map[string]string // column -> placeholder cast
}

func (u upsert) placeholderColumns() []string {
	cols := make([]string, 0, len(u.columns))
	for _, c := range u.columns {
		if _, ok := u.literals[c]; !ok {
			cols = append(cols, c)
		}
	}
	return cols
}

func (u upsert) updatable() []string {
	isKey := make(map[string]bool, len(u.key))
	for _, k := range u.key {
		isKey[k] = true
	}
	cols := make([]string, 0, len(u.columns))
	for _, c := range u.columns {
		if !isKey[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

func (u upsert) statement(rows int) string {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(u.table)
	b.WriteString(" AS t (")
	b.WriteString(strings.Join(u.columns, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, c := range u.columns {
			if i > 0 {
				b.WriteString(", ")
			}
			if lit, ok := u.literals[c]; ok {
				b.WriteString(lit)
				continue
			}
			fmt.Fprintf(&b, "$%d", n)
			if cast, ok := u.casts[c]; ok {
				b.WriteString("::")
				b.WriteString(cast)
			}
			n++
		}
		b.WriteByte(')')
	}

	update := u.updatable()
	set := make([]string, len(update))
	current := make([]string, len(update))
	excluded := make([]string, len(update))
	for i, c := range update {
		set[i] = c + " = EXCLUDED." + c
		current[i] = "t." + c
		excluded[i] = "EXCLUDED." + c
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(u.key, ", "))
	b.WriteString(") DO UPDATE SET ")
	b.WriteString(strings.Join(set, ", "))
	b.WriteString(" WHERE (")
	b.WriteString(strings.Join(current, ", "))
	b.WriteString(") IS DISTINCT FROM (")
	b.WriteString(strings.Join(excluded, ", "))
	b.WriteByte(')')

	return b.String()
}

// exec writes rows in chunks of MaxRowsPerStatement and returns the number of rows
// actually inserted or changed.
func (u upsert) exec(ctx context.Context, q db.Querier, rows [][]any) (int64, error) {
	var affected int64

	for start := 0; start < len(rows); start += MaxRowsPerStatement {
		end := min(start+MaxRowsPerStatement, len(rows))
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(u.placeholderColumns()))
		for _, r := range chunk {
			args = append(args, r...)
		}

		res, err := q.ExecContext(ctx, u.statement(len(chunk)), args...)
		if err != nil {
			return affected, fmt.Errorf("failed to upsert into %s: %w", u.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, fmt.Errorf("failed to read affected rows of %s: %w", u.table, err)
		}
		affected += n
	}

	return affected, nil
}

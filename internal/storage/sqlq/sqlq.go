// Package sqlq renders storage queries as SQL for the relational backends.
// Identifiers are checked against storage.Schema before they reach a
// statement, so only values travel as bind parameters.
package sqlq

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetcost/internal/storage"
)

// Dialect captures the differences between the supported engines.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// ILike is the case-insensitive LIKE operator.
	ILike string
	// Bind converts a normalized value before it is sent to the driver.
	Bind func(v any) any
	// NoLimit is emitted when a query has an offset but no limit.
	NoLimit string
}

var Postgres = Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	ILike:       "ILIKE",
	Bind:        func(v any) any { return v },
}

// SQLite stores timestamps as fixed-width text. LIKE is case-insensitive for
// ASCII in SQLite.
var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	ILike:       "LIKE",
	NoLimit:     "LIMIT -1",
	Bind: func(v any) any {
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(storage.TimeLayout)
		}
		return v
	},
}

type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, b.d.Bind(storage.NormalizeValue(v)))
	return b.d.Placeholder(len(b.args))
}

func (b *builder) where(f storage.Filter) {
	if len(f) == 0 {
		return
	}
	b.sb.WriteString(" WHERE ")
	for i, p := range f {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		b.predicate(p)
	}
}

func (b *builder) predicate(p storage.Predicate) {
	col := quote(p.Column)
	switch p.Op {
	case storage.OpEq:
		if p.Value == nil {
			b.sb.WriteString("1 = 0")
			return
		}
		fmt.Fprintf(&b.sb, "%s = %s", col, b.bind(p.Value))
	case storage.OpIsNull:
		fmt.Fprintf(&b.sb, "%s IS NULL", col)
	case storage.OpNotNull:
		fmt.Fprintf(&b.sb, "%s IS NOT NULL", col)
	case storage.OpILike:
		sub, _ := p.Value.(string)
		fmt.Fprintf(&b.sb, "%s %s %s ESCAPE '\\'", col, b.d.ILike, b.bind("%"+escapeLike(sub)+"%"))
	case storage.OpGte:
		fmt.Fprintf(&b.sb, "%s >= %s", col, b.bind(p.Value))
	case storage.OpLte:
		fmt.Fprintf(&b.sb, "%s <= %s", col, b.bind(p.Value))
	case storage.OpIn:
		vals, _ := p.Value.([]any)
		if len(vals) == 0 {
			b.sb.WriteString("1 = 0")
			return
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = b.bind(v)
		}
		fmt.Fprintf(&b.sb, "%s IN (%s)", col, strings.Join(ph, ", "))
	default:
		b.sb.WriteString("1 = 0")
	}
}

// Insert renders INSERT ... RETURNING for every column of t.
func Insert(d Dialect, t storage.Table, row storage.Row) (string, []any) {
	b := &builder{d: d}
	cols := sortedKeys(row)
	ph := make([]string, len(cols))
	for i, c := range cols {
		ph[i] = b.bind(row[c])
	}
	fmt.Fprintf(&b.sb, "INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quote(t.Name), quoteAll(cols), strings.Join(ph, ", "), quoteAll(t.ColumnNames()))
	return b.sb.String(), b.args
}

func Update(d Dialect, t storage.Table, patch storage.Row, where storage.Filter) (string, []any) {
	b := &builder{d: d}
	cols := sortedKeys(patch)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c) + " = " + b.bind(patch[c])
	}
	fmt.Fprintf(&b.sb, "UPDATE %s SET %s", quote(t.Name), strings.Join(sets, ", "))
	b.where(where)
	return b.sb.String(), b.args
}

func Delete(d Dialect, t storage.Table, where storage.Filter) (string, []any) {
	b := &builder{d: d}
	fmt.Fprintf(&b.sb, "DELETE FROM %s", quote(t.Name))
	b.where(where)
	return b.sb.String(), b.args
}

// Select renders a SELECT and returns the selected column names in order.
func Select(d Dialect, t storage.Table, q storage.Query) (string, []any, []string) {
	b := &builder{d: d}
	cols := q.Columns
	if len(cols) == 0 {
		cols = t.ColumnNames()
	}
	fmt.Fprintf(&b.sb, "SELECT %s FROM %s", quoteAll(cols), quote(t.Name))
	b.where(q.Where)
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = quote(o.Column) + " " + dir
		}
		b.sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	switch {
	case q.Limit > 0:
		fmt.Fprintf(&b.sb, " LIMIT %d", q.Limit)
	case q.Offset > 0 && d.NoLimit != "":
		b.sb.WriteString(" " + d.NoLimit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b.sb, " OFFSET %d", q.Offset)
	}
	return b.sb.String(), b.args, cols
}

// Scan converts positional driver values into a Row using the column types of t.
func Scan(t storage.Table, cols []string, values []any) (storage.Row, error) {
	row := make(storage.Row, len(cols))
	for i, name := range cols {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", storage.ErrUnknownColumn, t.Name, name)
		}
		v, err := storage.ConvertValue(col.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", t.Name, name, err)
		}
		row[name] = v
	}
	return row, nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quote(id)
	}
	return strings.Join(out, ", ")
}

func sortedKeys(r storage.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

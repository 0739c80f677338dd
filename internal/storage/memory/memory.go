// Package memory is an in-process RecordStore. It enforces the unique
// indexes declared in storage.Schema, including partial ones, and is the
// default backend for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"fleetcost/internal/storage"
)

var ErrClosed = errors.New("memory store closed")

// Store keeps rows per table in insertion order.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]storage.Row
	closed bool
}

func New() *Store {
	s := &Store{tables: make(map[string][]storage.Row)}
	for name := range storage.Schema {
		s.tables[name] = nil
	}
	return s
}

func (s *Store) Insert(ctx context.Context, table string, row storage.Row) (storage.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.Normalize(row)
	if err != nil {
		return nil, err
	}
	full := make(storage.Row, len(t.Columns))
	for _, c := range t.Columns {
		full[c.Name] = norm[c.Name]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := checkUnique(t, s.tables[table], full, -1); err != nil {
		return nil, err
	}
	s.tables[table] = append(s.tables[table], full)
	return clone(full), nil
}

// Update validates every patched row against the unique indexes before
// applying any change, so a failing update leaves the table untouched.
func (s *Store) Update(ctx context.Context, table string, patch storage.Row, where storage.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := storage.Lookup(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}
	norm, err := t.Normalize(patch)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	rows := s.tables[table]
	staged := make([]storage.Row, len(rows))
	copy(staged, rows)
	var affected int64
	for i, r := range rows {
		if !where.Matches(r) {
			continue
		}
		next := clone(r)
		for k, v := range norm {
			next[k] = v
		}
		staged[i] = next
		affected++
	}
	if affected == 0 {
		return 0, nil
	}
	for i, r := range staged {
		if err := checkUnique(t, staged, r, i); err != nil {
			return 0, err
		}
	}
	s.tables[table] = staged
	return affected, nil
}

func (s *Store) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := storage.Lookup(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	rows := s.tables[table]
	kept := rows[:0:0]
	for _, r := range rows {
		if !where.Matches(r) {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
	return int64(len(rows) - len(kept)), nil
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.CheckQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	var out []storage.Row
	for _, r := range s.tables[table] {
		if q.Where.Matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return less(out[i], out[j], q.OrderBy)
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	res := make([]storage.Row, len(out))
	for i, r := range out {
		res[i] = project(r, q.Columns)
	}
	return res, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// checkUnique reports a violation if candidate collides with any row of rows
// other than the one at skip. Rows with a nil in an indexed column never
// collide.
func checkUnique(t storage.Table, rows []storage.Row, candidate storage.Row, skip int) error {
	for _, idx := range t.Unique {
		if len(idx.Where) > 0 && !idx.Where.Matches(candidate) {
			continue
		}
		key, ok := indexKey(candidate, idx.Columns)
		if !ok {
			continue
		}
		for i, r := range rows {
			if i == skip {
				continue
			}
			if len(idx.Where) > 0 && !idx.Where.Matches(r) {
				continue
			}
			if other, ok := indexKey(r, idx.Columns); ok && other == key {
				return storage.UniqueViolation(idx.Name, nil)
			}
		}
	}
	return nil
}

func indexKey(r storage.Row, cols []string) (string, bool) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		v := r[c]
		if v == nil {
			return "", false
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x00"), true
}

// less orders nil before any value, like NULLS FIRST ascending.
func less(a, b storage.Row, order []storage.Order) bool {
	for _, o := range order {
		av, bv := a[o.Column], b[o.Column]
		var c int
		switch {
		case av == nil && bv == nil:
			c = 0
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			c, _ = storage.Compare(av, bv)
		}
		if c == 0 {
			continue
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func project(r storage.Row, cols []string) storage.Row {
	if len(cols) == 0 {
		return clone(r)
	}
	out := make(storage.Row, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

func clone(r storage.Row) storage.Row {
	out := make(storage.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

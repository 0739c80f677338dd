// Package sqlite is the SQLite RecordStore, backed by modernc.org/sqlite
// (pure Go) with schema managed by golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fleetcost/internal/storage"
	"fleetcost/internal/storage/sqlq"
)

type Store struct {
	db *sql.DB
}

// Open creates the database directory if needed, runs migrations and
// returns a ready store. dbPath must name a file: migrations run on their
// own connection, which would not share an in-memory database.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Insert(ctx context.Context, table string, row storage.Row) (storage.Row, error) {
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.Normalize(row)
	if err != nil {
		return nil, err
	}
	query, args := sqlq.Insert(sqlq.SQLite, t, norm)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(t, err)
	}
	out, err := collect(t, t.ColumnNames(), rows)
	if err != nil {
		return nil, translate(t, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("insert into %s returned %d rows", table, len(out))
	}
	return out[0], nil
}

func (s *Store) Update(ctx context.Context, table string, patch storage.Row, where storage.Filter) (int64, error) {
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
	query, args := sqlq.Update(sqlq.SQLite, t, norm, where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(t, err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	t, err := storage.Lookup(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}
	query, args := sqlq.Delete(sqlq.SQLite, t, where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Row, error) {
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.CheckQuery(q); err != nil {
		return nil, err
	}
	query, args, cols := sqlq.Select(sqlq.SQLite, t, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(t, cols, rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func collect(t storage.Table, cols []string, rows *sql.Rows) ([]storage.Row, error) {
	defer rows.Close()
	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.Name, err)
		}
		row, err := sqlq.Scan(t, cols, values)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// "UNIQUE constraint failed: trips.truck_id" or "...: trucks.organization_id, trucks.plate"
var uniqueColumnsRe = regexp.MustCompile(`UNIQUE constraint failed: ([\w., ]+)`)

func translate(t storage.Table, err error) error {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return err
	}
	var cols []string
	if m := uniqueColumnsRe.FindStringSubmatch(se.Error()); m != nil {
		for _, qualified := range strings.Split(m[1], ",") {
			qualified = strings.TrimSpace(qualified)
			cols = append(cols, strings.TrimPrefix(qualified, t.Name+"."))
		}
	}
	return storage.UniqueViolation(t.IndexForColumns(cols...), err)
}

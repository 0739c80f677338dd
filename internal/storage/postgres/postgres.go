// Package postgres is the PostgreSQL RecordStore built on pgxpool. Schema
// changes are applied with golang-migrate through the pgx/v5 driver.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"fleetcost/internal/storage"
	"fleetcost/internal/storage/sqlq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and migrates the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
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
	query, args := sqlq.Insert(sqlq.Postgres, t, norm)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	out, err := collect(t, t.ColumnNames(), rows)
	if err != nil {
		return nil, translate(err)
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
	query, args := sqlq.Update(sqlq.Postgres, t, norm, where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	t, err := storage.Lookup(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}
	query, args := sqlq.Delete(sqlq.Postgres, t, where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Row, error) {
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.CheckQuery(q); err != nil {
		return nil, err
	}
	query, args, cols := sqlq.Select(sqlq.Postgres, t, q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(t, cols, rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collect(t storage.Table, cols []string, rows pgx.Rows) ([]storage.Row, error) {
	defer rows.Close()
	var out []storage.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.Name, err)
		}
		row, err := sqlq.Scan(t, cols, values)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.UniqueViolation(pgErr.ConstraintName, err)
	}
	return err
}

// Package storage defines the Record Store collaborator: a small,
// table-oriented persistence contract that the repository layer maps to and
// from domain types. Backends live in sub-packages (memory, sqlite, postgres,
// mongo).
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Row is a single record keyed by column name. Values are string, int64,
// time.Time (UTC) or nil.
type Row map[string]any

// ErrUniqueViolation is returned (wrapped) when an insert or update would
// break one of the unique indexes declared in Schema.
var ErrUniqueViolation = errors.New("unique constraint violation")

// ErrUnknownTable and ErrUnknownColumn guard backends that build statements
// from identifiers.
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

// RecordStore is implemented by every persistence backend.
type RecordStore interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to every row matching where and reports how many
	// rows changed. Callers use the count for conditional transitions.
	Update(ctx context.Context, table string, patch Row, where Filter) (int64, error)
	Delete(ctx context.Context, table string, where Filter) (int64, error)
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Ping(ctx context.Context) error
	Close() error
}

// UniqueViolation wraps ErrUniqueViolation with the index that failed.
func UniqueViolation(index string, cause error) error {
	if index == "" {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, cause)
	}
	return fmt.Errorf("%w on %s", ErrUniqueViolation, index)
}

// Order sorts query results by one column.
type Order struct {
	Column string
	Desc   bool
}

// Asc and Desc build orderings.
func Asc(col string) Order { return Order{Column: col} }
func Desc(col string) Order { return Order{Column: col, Desc: true} }

// Query describes a Select. Zero Limit means no limit. Empty Columns selects
// every column of the table.
type Query struct {
	Columns []string
	Where   Filter
	OrderBy []Order
	Offset  int
	Limit   int
}

// Package repository maps Record Store rows to domain types. Every method
// takes the caller's organization and adds it to the predicate, so a
// repository call can never read or touch another tenant's rows.
package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

const dependencyName = "record store"

// Repositories bundles the typed repositories over one store.
type Repositories struct {
	Trucks   *TruckRepository
	Drivers  *DriverRepository
	Trips    *TripRepository
	Expenses *ExpenseRepository
	Images   *ImageRepository
	Incomes  *IncomeRepository
}

// New builds every repository over rs. now stamps created_at and may be nil.
func New(rs storage.RecordStore, now func() time.Time) *Repositories {
	if now == nil {
		now = time.Now
	}
	b := base{rs: rs, now: func() time.Time { return now().UTC() }}
	return &Repositories{
		Trucks:   &TruckRepository{b},
		Drivers:  &DriverRepository{b},
		Trips:    &TripRepository{b},
		Expenses: &ExpenseRepository{b},
		Images:   &ImageRepository{b},
		Incomes:  &IncomeRepository{b},
	}
}

// Page limits a listing. Zero Limit means everything.
type Page struct {
	Offset int
	Limit  int
}

type base struct {
	rs  storage.RecordStore
	now func() time.Time
}

func newID() string {
	return uuid.NewString()
}

func scope(org string, preds ...storage.Predicate) storage.Filter {
	return storage.Where(storage.Eq("organization_id", org)).And(preds...)
}

// wrap converts store errors into the domain taxonomy.
func wrap(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrUniqueViolation) {
		return core.Conflict(op, entity, id, "already exists", err)
	}
	return core.DependencyFailed(op, entity, id, dependencyName, err)
}

func str(r storage.Row, col string) string {
	s, _ := r[col].(string)
	return s
}

func strPtr(r storage.Row, col string) *string {
	s, ok := r[col].(string)
	if !ok {
		return nil
	}
	return &s
}

func i64(r storage.Row, col string) int64 {
	n, _ := r[col].(int64)
	return n
}

func i64Ptr(r storage.Row, col string) *int64 {
	n, ok := r[col].(int64)
	if !ok {
		return nil
	}
	return &n
}

func ts(r storage.Row, col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

func tsPtr(r storage.Row, col string) *time.Time {
	t, ok := r[col].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func moneyPtr(r storage.Row, col string) *core.Money {
	n, ok := r[col].(int64)
	if !ok {
		return nil
	}
	m := core.Cents(n)
	return &m
}

// nullable maps nil pointers to SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func centsOrNil(m *core.Money) any {
	if m == nil {
		return nil
	}
	return m.Cents
}

func rangePredicates(col string, r core.DateRange) []storage.Predicate {
	var preds []storage.Predicate
	if !r.From.IsZero() {
		preds = append(preds, storage.Gte(col, r.From.UTC()))
	}
	if !r.To.IsZero() {
		preds = append(preds, storage.Lte(col, r.To.UTC()))
	}
	return preds
}

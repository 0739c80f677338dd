package storage

import (
	"fmt"
	"strings"
	"time"
)

// ColumnType is the logical type of a column. Backends use it to convert
// driver values back into the Row value set.
type ColumnType int

const (
	Text ColumnType = iota
	Int
	Time
)

type Column struct {
	Name string
	Type ColumnType
}

// UniqueIndex is a unique constraint over Columns. When Where is set the
// index is partial and only rows matching it take part. Only equality
// predicates are supported in Where.
type UniqueIndex struct {
	Name    string
	Columns []string
	Where   Filter
}

type Table struct {
	Name    string
	Columns []Column
	Unique  []UniqueIndex
}

// Table names.
const (
	Trucks        = "trucks"
	Drivers       = "drivers"
	Trips         = "trips"
	Expenses      = "expenses"
	Incomes       = "incomes"
	ExpenseImages = "expense_images"
)

// IndexOneStartedTripPerTruck backs the rule that a truck has at most one
// trip in status "started".
const IndexOneStartedTripPerTruck = "trip_one_started_per_truck"

// Schema lists every table the application uses. SQL migrations mirror it.
var Schema = map[string]Table{
	Trucks: {
		Name: Trucks,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"name", Text}, {"plate", Text},
			{"current_driver_id", Text}, {"status", Text}, {"created_at", Time},
		},
		Unique: []UniqueIndex{
			{Name: "trucks_pkey", Columns: []string{"id"}},
			{Name: "trucks_org_plate", Columns: []string{"organization_id", "plate"}},
		},
	},
	Drivers: {
		Name: Drivers,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"name", Text}, {"national_id", Text},
			{"phone", Text}, {"created_at", Time},
		},
		Unique: []UniqueIndex{
			{Name: "drivers_pkey", Columns: []string{"id"}},
			{Name: "drivers_org_national_id", Columns: []string{"organization_id", "national_id"}},
		},
	},
	Trips: {
		Name: Trips,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"truck_id", Text}, {"driver_id", Text},
			{"origin", Text}, {"destination", Text}, {"status", Text},
			{"start_odometer", Int}, {"started_at", Time},
			{"end_odometer", Int}, {"ended_at", Time},
			{"frete_cents", Int}, {"comissao_cents", Int},
		},
		Unique: []UniqueIndex{
			{Name: "trips_pkey", Columns: []string{"id"}},
			{Name: IndexOneStartedTripPerTruck, Columns: []string{"truck_id"}, Where: Where(Eq("status", "started"))},
		},
	},
	Expenses: {
		Name: Expenses,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"category", Text}, {"amount_cents", Int},
			{"description", Text}, {"truck_id", Text}, {"driver_id", Text}, {"trip_id", Text},
			{"created_at", Time},
		},
		Unique: []UniqueIndex{
			{Name: "expenses_pkey", Columns: []string{"id"}},
		},
	},
	Incomes: {
		Name: Incomes,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"amount_cents", Int},
			{"description", Text}, {"created_at", Time},
		},
		Unique: []UniqueIndex{
			{Name: "incomes_pkey", Columns: []string{"id"}},
		},
	},
	ExpenseImages: {
		Name: ExpenseImages,
		Columns: []Column{
			{"id", Text}, {"organization_id", Text}, {"expense_id", Text}, {"url", Text},
			{"created_at", Time},
		},
		Unique: []UniqueIndex{
			{Name: "expense_images_pkey", Columns: []string{"id"}},
		},
	},
}

// Lookup returns the table definition or ErrUnknownTable.
func Lookup(table string) (Table, error) {
	t, ok := Schema[table]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return t, nil
}

// Column returns the column definition.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// CheckColumns verifies that every name is a column of t.
func (t Table) CheckColumns(names ...string) error {
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, n)
		}
	}
	return nil
}

// CheckQuery verifies every identifier referenced by q.
func (t Table) CheckQuery(q Query) error {
	if err := t.CheckColumns(q.Columns...); err != nil {
		return err
	}
	if err := t.CheckFilter(q.Where); err != nil {
		return err
	}
	for _, o := range q.OrderBy {
		if err := t.CheckColumns(o.Column); err != nil {
			return err
		}
	}
	return nil
}

func (t Table) CheckFilter(f Filter) error {
	for _, p := range f {
		if err := t.CheckColumns(p.Column); err != nil {
			return err
		}
	}
	return nil
}

// IndexForColumns finds the unique index covering exactly cols. Backends that
// only report the failing columns use it to name the violation.
func (t Table) IndexForColumns(cols ...string) string {
	want := strings.Join(cols, ",")
	for _, u := range t.Unique {
		if strings.Join(u.Columns, ",") == want {
			return u.Name
		}
	}
	return ""
}

// Normalize returns a copy of row with every value converted to the Row value
// set according to the column type. Unknown columns are rejected.
func (t Table) Normalize(row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, k)
		}
		cv, err := ConvertValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", t.Name, k, err)
		}
		out[k] = cv
	}
	return out, nil
}

// TimeLayout is the fixed-width text form used by backends without a native
// timestamp type. It sorts lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// ConvertValue coerces a driver or caller value into the Go type for ct.
func ConvertValue(ct ColumnType, v any) (any, error) {
	v = NormalizeValue(v)
	if v == nil {
		return nil, nil
	}
	switch ct {
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case Int:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case int32:
			return int64(x), nil
		}
	case Time:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return parseTime(x)
		case []byte:
			return parseTime(string(x))
		}
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", v, v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}

package storage

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpIsNull
	OpNotNull
	OpILike // case-insensitive substring
	OpGte
	OpLte
	OpIn
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpIsNull:
		return "is_null"
	case OpNotNull:
		return "not_null"
	case OpILike:
		return "ilike"
	case OpGte:
		return "gte"
	case OpLte:
		return "lte"
	case OpIn:
		return "in"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Predicate is a single column condition. For OpIn, Value holds []any.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a conjunction of predicates. An empty filter matches every row.
type Filter []Predicate

func Eq(col string, v any) Predicate { return Predicate{Column: col, Op: OpEq, Value: v} }
func IsNull(col string) Predicate { return Predicate{Column: col, Op: OpIsNull} }
func NotNull(col string) Predicate { return Predicate{Column: col, Op: OpNotNull} }
func ILike(col, sub string) Predicate { return Predicate{Column: col, Op: OpILike, Value: sub} }
func Gte(col string, v any) Predicate { return Predicate{Column: col, Op: OpGte, Value: v} }
func Lte(col string, v any) Predicate { return Predicate{Column: col, Op: OpLte, Value: v} }

// In matches rows whose column equals any of vs. An empty set matches nothing.
func In[T any](col string, vs ...T) Predicate {
	vals := make([]any, len(vs))
	for i, v := range vs {
		vals[i] = v
	}
	return Predicate{Column: col, Op: OpIn, Value: vals}
}

// Where builds a filter.
func Where(preds ...Predicate) Filter {
	return Filter(preds)
}

// And returns a new filter with preds appended.
func (f Filter) And(preds ...Predicate) Filter {
	out := make(Filter, 0, len(f)+len(preds))
	out = append(out, f...)
	return append(out, preds...)
}

// Matches evaluates the filter against row in memory. Missing columns read as
// nil. Comparisons follow SQL semantics: nil never equals anything.
func (f Filter) Matches(row Row) bool {
	for _, p := range f {
		if !p.matches(row[p.Column]) {
			return false
		}
	}
	return true
}

func (p Predicate) matches(v any) bool {
	switch p.Op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpEq:
		if v == nil || p.Value == nil {
			return false
		}
		c, ok := Compare(v, p.Value)
		return ok && c == 0
	case OpILike:
		s, ok := v.(string)
		if !ok {
			return false
		}
		sub, _ := p.Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case OpGte:
		c, ok := Compare(v, p.Value)
		return ok && c >= 0
	case OpLte:
		c, ok := Compare(v, p.Value)
		return ok && c <= 0
	case OpIn:
		vals, _ := p.Value.([]any)
		for _, candidate := range vals {
			if c, ok := Compare(v, candidate); ok && c == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Compare orders two normalized values of the same kind. ok is false when the
// values are not comparable (different kinds or nil).
func Compare(a, b any) (c int, ok bool) {
	a, b = NormalizeValue(a), NormalizeValue(b)
	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, isInt := b.(int64)
		if !isInt {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return x.Compare(y), true
	default:
		return 0, false
	}
}

// NormalizeValue converts Go values callers commonly pass into the Row value
// set: ints widen to int64, times move to UTC, typed strings and pointers are
// unwrapped.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case time.Time:
		return x.UTC()
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case fmt.Stringer:
		return x.String()
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String:
			return rv.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int()
		}
		return v
	}
}

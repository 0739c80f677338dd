package core

import (
	"errors"
	"strings"
)

// Category classifies an expense. The set is closed: any other value is
// rejected instead of being dropped or folded into Outros.
type Category string

const (
	Combustivel Category = "combustivel" // fuel
	Manutencao  Category = "manutencao"  // maintenance
	Pedagio     Category = "pedagio"     // toll
	Comissao    Category = "comissao"    // driver commission
	Outros      Category = "outros"      // other
)

// NumCategories is the size of the category set. Accumulators index arrays by
// Category.Index, so adding a category without updating Index breaks the
// exhaustiveness test.
const NumCategories = 5

var ErrUnknownCategory = errors.New("unknown expense category")

var allCategories = [NumCategories]Category{Combustivel, Manutencao, Pedagio, Comissao, Outros}

// AllCategories returns the categories in canonical display order.
func AllCategories() []Category {
	out := make([]Category, NumCategories)
	copy(out, allCategories[:])
	return out
}

// Index returns the position of c in AllCategories, or -1 for unknown values.
func (c Category) Index() int {
	switch c {
	case Combustivel:
		return 0
	case Manutencao:
		return 1
	case Pedagio:
		return 2
	case Comissao:
		return 3
	case Outros:
		return 4
	default:
		return -1
	}
}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	return c.Index() >= 0
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory maps a stored or user supplied string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", Invalid("parse", EntityExpense, "", "category", ErrUnknownCategory)
	}
	return c, nil
}

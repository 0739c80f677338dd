// Package analytics turns expense, trip and income records into the totals
// the dashboards show. Everything here is pure: no store access, no clocks,
// and accumulators are values built by folding, never shared mutable state.
package analytics

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"fleetcost/internal/core"
)

// CategoryTotals holds one total per expense category. The zero value is a
// valid, empty accumulator. Add returns a new value and never mutates the
// receiver.
type CategoryTotals struct {
	amounts [core.NumCategories]core.Money
	total   core.Money
}

// Add returns c with amount added to cat. A sum that no longer fits in
// int64 cents is a ValidationError.
func (c CategoryTotals) Add(cat core.Category, amount core.Money) (CategoryTotals, error) {
	i := cat.Index()
	if i < 0 {
		return c, core.Invalid("aggregate", core.EntityExpense, "", "category", core.ErrUnknownCategory)
	}
	next, err := c.amounts[i].CheckedAdd(amount)
	if err != nil {
		return c, core.Invalid("aggregate", core.EntityExpense, "", "amount", err)
	}
	total, err := c.total.CheckedAdd(amount)
	if err != nil {
		return c, core.Invalid("aggregate", core.EntityExpense, "", "amount", err)
	}
	c.amounts[i] = next
	c.total = total
	return c, nil
}

// Get returns the total for cat; zero for categories with no expenses.
func (c CategoryTotals) Get(cat core.Category) core.Money {
	i := cat.Index()
	if i < 0 {
		return core.Money{}
	}
	return c.amounts[i]
}

// Total is the grand total across categories.
func (c CategoryTotals) Total() core.Money {
	return c.total
}

// Map returns every category, including the ones at zero.
func (c CategoryTotals) Map() map[core.Category]core.Money {
	out := make(map[core.Category]core.Money, core.NumCategories)
	for _, cat := range core.AllCategories() {
		out[cat] = c.Get(cat)
	}
	return out
}

func (c CategoryTotals) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// AggregateByCategory sums amounts per category. An unknown category fails
// the whole aggregation instead of being dropped.
func AggregateByCategory(expenses []core.Expense) (CategoryTotals, error) {
	var acc CategoryTotals
	for _, e := range expenses {
		next, err := acc.Add(e.Category, e.Amount)
		if err != nil {
			return CategoryTotals{}, withExpenseID(err, e.ID)
		}
		acc = next
	}
	return acc, nil
}

// TruckAggregate is the cost breakdown of one truck.
type TruckAggregate struct {
	TruckID    string         `json:"truck_id"`
	Categories CategoryTotals `json:"categories"`
	Total      core.Money     `json:"total"`
}

// AggregateByTruck groups by truck and aggregates each group by category.
func AggregateByTruck(expenses []core.Expense) (map[string]TruckAggregate, error) {
	groups := make(map[string]CategoryTotals)
	for _, e := range expenses {
		next, err := groups[e.TruckID].Add(e.Category, e.Amount)
		if err != nil {
			return nil, withExpenseID(err, e.ID)
		}
		groups[e.TruckID] = next
	}
	out := make(map[string]TruckAggregate, len(groups))
	for truck, totals := range groups {
		out[truck] = TruckAggregate{TruckID: truck, Categories: totals, Total: totals.Total()}
	}
	return out, nil
}

// AggregateByDateRange aggregates the expenses created within [from, to].
// Both bounds are inclusive. The input is filtered again here even when the
// store already applied the range.
func AggregateByDateRange(expenses []core.Expense, from, to time.Time) (CategoryTotals, error) {
	rng := core.DateRange{From: from, To: to}
	if err := rng.Validate(); err != nil {
		return CategoryTotals{}, err
	}
	return AggregateByCategory(FilterByRange(expenses, rng))
}

// FilterByRange keeps the expenses whose creation time lies inside rng.
func FilterByRange(expenses []core.Expense, rng core.DateRange) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if rng.Contains(e.CreatedAt) {
			out = append(out, e)
		}
	}
	return out
}

// CostTripSummary is the cost view of one trip.
type CostTripSummary struct {
	TripID        string          `json:"trip_id"`
	TruckID       string          `json:"truck_id"`
	DriverID      string          `json:"driver_id,omitempty"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	Status        core.TripStatus `json:"status"`
	StartOdometer int64           `json:"start_odometer"`
	EndOdometer   *int64          `json:"end_odometer,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	Frete         *core.Money     `json:"frete"`
	Comissao      *core.Money     `json:"comissao"`

	PedagioCost     core.Money `json:"pedagio_cost"`
	ManutencaoCost  core.Money `json:"manutencao_cost"`
	CombustivelCost core.Money `json:"combustivel_cost"`
	ComissaoCost    core.Money `json:"comissao_cost"`
	OutrosCost      core.Money `json:"outros_cost"`
	TotalCost       core.Money `json:"total_cost"`
	ExpenseCount    int        `json:"expense_count"`
}

// FinancialsComplete mirrors core.Trip.FinancialsComplete for the summary.
func (s CostTripSummary) FinancialsComplete() bool {
	return s.Frete != nil && s.Comissao != nil
}

// GroupByTrip builds one summary per referenced trip. Expenses without a
// trip reference are left out of this view. trips supplies the metadata;
// a trip missing from it still gets a summary carrying only its costs.
func GroupByTrip(expenses []core.Expense, trips map[string]core.Trip) (map[string]CostTripSummary, error) {
	type group struct {
		totals   CategoryTotals
		count    int
		driverID string
		truckID  string
	}
	groups := make(map[string]group)
	for _, e := range expenses {
		if e.TripID == nil || *e.TripID == "" {
			continue
		}
		g := groups[*e.TripID]
		next, err := g.totals.Add(e.Category, e.Amount)
		if err != nil {
			return nil, withExpenseID(err, e.ID)
		}
		g.totals = next
		g.count++
		if g.truckID == "" {
			g.truckID = e.TruckID
		}
		if e.DriverID != nil && g.driverID == "" {
			g.driverID = *e.DriverID
		}
		groups[*e.TripID] = g
	}

	out := make(map[string]CostTripSummary, len(groups))
	for id, g := range groups {
		s := CostTripSummary{
			TripID:          id,
			TruckID:         g.truckID,
			DriverID:        g.driverID,
			PedagioCost:     g.totals.Get(core.Pedagio),
			ManutencaoCost:  g.totals.Get(core.Manutencao),
			CombustivelCost: g.totals.Get(core.Combustivel),
			ComissaoCost:    g.totals.Get(core.Comissao),
			OutrosCost:      g.totals.Get(core.Outros),
			TotalCost:       g.totals.Total(),
			ExpenseCount:    g.count,
		}
		if t, ok := trips[id]; ok {
			s = withTrip(s, t)
		}
		out[id] = s
	}
	return out, nil
}

// SummarizeTrip builds the summary of a single trip from the expenses linked
// to it. A trip with no expenses yields zero costs.
func SummarizeTrip(t core.Trip, expenses []core.Expense) (CostTripSummary, error) {
	linked := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if e.TripID != nil && *e.TripID == t.ID {
			linked = append(linked, e)
		}
	}
	groups, err := GroupByTrip(linked, map[string]core.Trip{t.ID: t})
	if err != nil {
		return CostTripSummary{}, err
	}
	if s, ok := groups[t.ID]; ok {
		return s, nil
	}
	return withTrip(CostTripSummary{TripID: t.ID}, t), nil
}

func withTrip(s CostTripSummary, t core.Trip) CostTripSummary {
	s.TruckID = t.TruckID
	if s.DriverID == "" {
		s.DriverID = t.DriverID
	}
	s.Origin = t.Origin
	s.Destination = t.Destination
	s.Status = t.Status
	s.StartOdometer = t.StartOdometer
	s.EndOdometer = t.EndOdometer
	s.StartedAt = t.StartedAt
	s.EndedAt = t.EndedAt
	s.Frete = t.Frete
	s.Comissao = t.Comissao
	return s
}

// SortTripSummaries orders summaries by trip start, most recent first, with
// trip id ascending as the tie breaker.
func SortTripSummaries(m map[string]CostTripSummary) []CostTripSummary {
	out := make([]CostTripSummary, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].TripID < out[j].TripID
	})
	return out
}

func withExpenseID(err error, id string) error {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		cp.ID = id
		return &cp
	}
	return err
}

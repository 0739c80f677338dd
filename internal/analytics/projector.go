package analytics

import (
	"sort"

	"fleetcost/internal/core"
)

// ProfitResult is the outcome of TripProfit. Profit is nil when no freight
// has been recorded, which is not the same as a zero profit. Incomplete is
// set whenever freight or commission is still missing.
type ProfitResult struct {
	Profit     *core.Money `json:"profit"`
	Incomplete bool        `json:"incomplete"`
}

// TripProfit returns frete minus total cost with its sign preserved.
func TripProfit(s CostTripSummary) ProfitResult {
	if s.Frete == nil {
		return ProfitResult{Incomplete: true}
	}
	p := s.Frete.Sub(s.TotalCost)
	return ProfitResult{Profit: &p, Incomplete: s.Comissao == nil}
}

// PeriodProfit is income minus expense; it may be negative.
func PeriodProfit(totalIncome, totalExpense core.Money) core.Money {
	return totalIncome.Sub(totalExpense)
}

// FleetRanking orders trucks by grand total, highest first, breaking ties by
// truck id ascending, and keeps at most topN entries.
func FleetRanking(aggregates map[string]TruckAggregate, topN int) []TruckAggregate {
	if topN <= 0 {
		return []TruckAggregate{}
	}
	out := make([]TruckAggregate, 0, len(aggregates))
	for _, a := range aggregates {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total.Cents != out[j].Total.Cents {
			return out[i].Total.Cents > out[j].Total.Cents
		}
		return out[i].TruckID < out[j].TruckID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// OverviewResult is the fleet-wide figure set for a period.
type OverviewResult struct {
	Range       core.DateRange `json:"-"`
	Categories  CategoryTotals `json:"categories"`
	TotalCost   core.Money     `json:"total_cost"`
	TotalIncome core.Money     `json:"total_income"`
	Profit      core.Money     `json:"profit"`
}

// Overview aggregates expenses and incomes that fall inside rng.
func Overview(expenses []core.Expense, incomes []core.Income, rng core.DateRange) (OverviewResult, error) {
	if err := rng.Validate(); err != nil {
		return OverviewResult{}, err
	}
	totals, err := AggregateByCategory(FilterByRange(expenses, rng))
	if err != nil {
		return OverviewResult{}, err
	}
	var income core.Money
	for _, in := range incomes {
		if !rng.Contains(in.CreatedAt) {
			continue
		}
		income, err = income.CheckedAdd(in.Amount)
		if err != nil {
			return OverviewResult{}, core.Invalid("aggregate", core.EntityIncome, in.ID, "amount", err)
		}
	}
	cost := totals.Total()
	return OverviewResult{
		Range:       rng,
		Categories:  totals,
		TotalCost:   cost,
		TotalIncome: income,
		Profit:      PeriodProfit(income, cost),
	}, nil
}

// CategoryDelta compares one category between two sides.
type CategoryDelta struct {
	Category core.Category `json:"category"`
	A        core.Money    `json:"a"`
	B        core.Money    `json:"b"`
	Delta    core.Money    `json:"delta"` // B - A
}

// Comparison is a side-by-side view of two cost breakdowns.
type Comparison struct {
	Categories []CategoryDelta `json:"categories"`
	TotalA     core.Money      `json:"total_a"`
	TotalB     core.Money      `json:"total_b"`
	Delta      core.Money      `json:"delta"`
}

// CompareTotals lists every category in canonical order with B - A deltas.
func CompareTotals(a, b CategoryTotals) Comparison {
	cats := core.AllCategories()
	out := Comparison{Categories: make([]CategoryDelta, len(cats))}
	for i, c := range cats {
		av, bv := a.Get(c), b.Get(c)
		out.Categories[i] = CategoryDelta{Category: c, A: av, B: bv, Delta: bv.Sub(av)}
	}
	out.TotalA = a.Total()
	out.TotalB = b.Total()
	out.Delta = out.TotalB.Sub(out.TotalA)
	return out
}

package analytics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcost/internal/core"
)

func ptr[T any](v T) *T { return &v }

func exp(id, truck string, cat core.Category, cents int64, at time.Time, trip *string) core.Expense {
	return core.Expense{
		ID: id, OrganizationID: "org", TruckID: truck, Category: cat,
		Amount: core.Cents(cents), CreatedAt: at, TripID: trip,
	}
}

var day0 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func TestAggregateByCategoryScenario(t *testing.T) {
	es := []core.Expense{
		exp("1", "T1", core.Combustivel, 100, day0, nil),
		exp("2", "T1", core.Manutencao, 50, day0, nil),
		exp("3", "T1", core.Pedagio, 20, day0, nil),
		exp("4", "T1", core.Comissao, 10, day0, nil),
		exp("5", "T1", core.Outros, 5, day0, nil),
	}
	got, err := AggregateByCategory(es)
	require.NoError(t, err)
	assert.Equal(t, map[core.Category]core.Money{
		core.Combustivel: core.Cents(100),
		core.Manutencao:  core.Cents(50),
		core.Pedagio:     core.Cents(20),
		core.Comissao:    core.Cents(10),
		core.Outros:      core.Cents(5),
	}, got.Map())
	assert.Equal(t, core.Cents(185), got.Total())
}

func TestAbsentCategoriesAreZero(t *testing.T) {
	got, err := AggregateByCategory([]core.Expense{exp("1", "T1", core.Pedagio, 700, day0, nil)})
	require.NoError(t, err)
	m := got.Map()
	assert.Len(t, m, core.NumCategories)
	assert.True(t, m[core.Combustivel].IsZero())

	empty, err := AggregateByCategory(nil)
	require.NoError(t, err)
	assert.True(t, empty.Total().IsZero())
}

func TestUnknownCategoryIsRejected(t *testing.T) {
	es := []core.Expense{
		exp("ok", "T1", core.Pedagio, 10, day0, nil),
		exp("bad", "T1", core.Category("lavagem"), 10, day0, nil),
	}
	_, err := AggregateByCategory(es)
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "bad", ve.ID)
	assert.ErrorIs(t, err, core.ErrUnknownCategory)

	_, err = AggregateByTruck(es)
	assert.ErrorIs(t, err, core.ErrValidation)

	trip := ptr("trip")
	es[1].TripID = trip
	_, err = GroupByTrip(es, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestConservationOfTotal(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	cats := core.AllCategories()
	for round := 0; round < 50; round++ {
		n := r.Intn(200)
		es := make([]core.Expense, n)
		var want int64
		for i := range es {
			cents := r.Int63n(1_000_000)
			want += cents
			var trip *string
			if r.Intn(2) == 0 {
				trip = ptr(fmt.Sprintf("trip-%d", r.Intn(5)))
			}
			es[i] = exp(fmt.Sprint(i), fmt.Sprintf("T%d", r.Intn(4)), cats[r.Intn(len(cats))], cents, day0, trip)
		}
		byCat, err := AggregateByCategory(es)
		require.NoError(t, err)
		assert.Equal(t, want, byCat.Total().Cents)

		byTruck, err := AggregateByTruck(es)
		require.NoError(t, err)
		var truckSum int64
		for _, a := range byTruck {
			truckSum += a.Total.Cents
			assert.Equal(t, a.Categories.Total(), a.Total)
		}
		assert.Equal(t, want, truckSum)
	}
}

func TestGroupByTripExcludesUnlinkedExpenses(t *testing.T) {
	trip1 := ptr("trip1")
	es := []core.Expense{
		exp("1", "T1", core.Combustivel, 200, day0, trip1),
		exp("2", "T1", core.Pedagio, 100, day0, trip1),
		exp("3", "T1", core.Outros, 999, day0, nil),
	}
	byTrip, err := GroupByTrip(es, nil)
	require.NoError(t, err)
	require.Len(t, byTrip, 1)
	s := byTrip["trip1"]
	assert.Equal(t, core.Cents(300), s.TotalCost)
	assert.Equal(t, core.Cents(200), s.CombustivelCost)
	assert.Equal(t, core.Cents(100), s.PedagioCost)
	assert.Equal(t, 2, s.ExpenseCount)

	byCat, err := AggregateByCategory(es)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(1299), byCat.Total())

	byTruck, err := AggregateByTruck(es)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(1299), byTruck["T1"].Total)
}

func TestGroupByTripCarriesMetadataAndSorts(t *testing.T) {
	frete := core.Cents(1000)
	trips := map[string]core.Trip{
		"a": {ID: "a", TruckID: "T1", DriverID: "D1", Origin: "X", Destination: "Y", Status: core.TripFinished, StartedAt: day0, Frete: &frete},
		"b": {ID: "b", TruckID: "T1", DriverID: "D1", Status: core.TripStarted, StartedAt: day0.Add(48 * time.Hour)},
		"c": {ID: "c", TruckID: "T1", DriverID: "D2", Status: core.TripFinished, StartedAt: day0},
	}
	driver := ptr("D9")
	es := []core.Expense{
		exp("1", "T1", core.Pedagio, 10, day0, ptr("a")),
		exp("2", "T1", core.Pedagio, 10, day0, ptr("b")),
		exp("3", "T1", core.Pedagio, 10, day0, ptr("c")),
	}
	es[0].DriverID = driver
	byTrip, err := GroupByTrip(es, trips)
	require.NoError(t, err)
	assert.Equal(t, "X", byTrip["a"].Origin)
	assert.Equal(t, "D9", byTrip["a"].DriverID)
	assert.Equal(t, "D2", byTrip["c"].DriverID)
	require.NotNil(t, byTrip["a"].Frete)

	sorted := SortTripSummaries(byTrip)
	ids := []string{sorted[0].TripID, sorted[1].TripID, sorted[2].TripID}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestAggregateByDateRangeIsInclusive(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	es := []core.Expense{
		exp("before", "T1", core.Pedagio, 1, from.Add(-time.Second), nil),
		exp("start", "T1", core.Pedagio, 10, from, nil),
		exp("mid", "T1", core.Combustivel, 100, from.AddDate(0, 0, 10), nil),
		exp("end", "T1", core.Outros, 1000, to, nil),
		exp("after", "T1", core.Outros, 10000, to.Add(time.Second), nil),
	}
	got, err := AggregateByDateRange(es, from, to)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(1110), got.Total())

	_, err = AggregateByDateRange(es, to, from)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestTripProfit(t *testing.T) {
	frete := core.Cents(1000)
	comissao := core.Cents(0)

	complete := CostTripSummary{Frete: &frete, Comissao: &comissao, TotalCost: core.Cents(300)}
	got := TripProfit(complete)
	require.NotNil(t, got.Profit)
	assert.Equal(t, core.Cents(700), *got.Profit)
	assert.False(t, got.Incomplete)

	loss := CostTripSummary{Frete: &frete, Comissao: &comissao, TotalCost: core.Cents(1500)}
	got = TripProfit(loss)
	require.NotNil(t, got.Profit)
	assert.Equal(t, core.Cents(-500), *got.Profit)

	noFrete := CostTripSummary{TotalCost: core.Cents(500)}
	got = TripProfit(noFrete)
	assert.Nil(t, got.Profit)
	assert.True(t, got.Incomplete)

	noComissao := CostTripSummary{Frete: &frete, TotalCost: core.Cents(300)}
	got = TripProfit(noComissao)
	require.NotNil(t, got.Profit)
	assert.Equal(t, core.Cents(700), *got.Profit)
	assert.True(t, got.Incomplete)

	breakEven := CostTripSummary{Frete: &frete, Comissao: &comissao, TotalCost: frete}
	got = TripProfit(breakEven)
	require.NotNil(t, got.Profit)
	assert.True(t, got.Profit.IsZero())
	assert.False(t, got.Incomplete)
}

func TestSummarizeTripScenario(t *testing.T) {
	frete := core.Cents(1000)
	trip := core.Trip{ID: "trip1", TruckID: "T1", Status: core.TripFinished, Frete: &frete, StartedAt: day0}
	es := []core.Expense{
		exp("1", "T1", core.Combustivel, 200, day0, ptr("trip1")),
		exp("2", "T1", core.Comissao, 100, day0, ptr("trip1")),
		exp("3", "T1", core.Combustivel, 5000, day0, ptr("other")),
	}
	s, err := SummarizeTrip(trip, es)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(300), s.TotalCost)
	assert.Equal(t, core.Cents(700), *TripProfit(s).Profit)

	empty, err := SummarizeTrip(core.Trip{ID: "lonely", StartedAt: day0}, es)
	require.NoError(t, err)
	assert.Equal(t, "lonely", empty.TripID)
	assert.True(t, empty.TotalCost.IsZero())
}

func TestPeriodProfit(t *testing.T) {
	assert.Equal(t, core.Cents(-250), PeriodProfit(core.Cents(750), core.Cents(1000)))
	assert.Equal(t, core.Cents(250), PeriodProfit(core.Cents(1000), core.Cents(750)))
}

func TestFleetRanking(t *testing.T) {
	aggs := map[string]TruckAggregate{
		"A": {TruckID: "A", Total: core.Cents(500)},
		"C": {TruckID: "C", Total: core.Cents(1500)},
		"B": {TruckID: "B", Total: core.Cents(1500)},
	}
	got := FleetRanking(aggs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].TruckID)
	assert.Equal(t, "C", got[1].TruckID)

	assert.Len(t, FleetRanking(aggs, 10), 3)
	assert.Empty(t, FleetRanking(aggs, 0))
	assert.Empty(t, FleetRanking(aggs, -1))
}

func TestOverviewAndCompare(t *testing.T) {
	rng := core.NewDateRange(day0, day0)
	es := []core.Expense{
		exp("1", "T1", core.Combustivel, 400, day0, nil),
		exp("2", "T2", core.Pedagio, 100, day0, nil),
		exp("3", "T2", core.Pedagio, 100, day0.AddDate(0, 0, 1), nil),
	}
	incomes := []core.Income{
		{ID: "i1", Amount: core.Cents(300), CreatedAt: day0},
		{ID: "i2", Amount: core.Cents(9999), CreatedAt: day0.AddDate(0, -1, 0)},
	}
	ov, err := Overview(es, incomes, rng)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(500), ov.TotalCost)
	assert.Equal(t, core.Cents(300), ov.TotalIncome)
	assert.Equal(t, core.Cents(-200), ov.Profit)

	a, _ := AggregateByCategory(es[:1])
	b, _ := AggregateByCategory(es[1:])
	cmp := CompareTotals(a, b)
	require.Len(t, cmp.Categories, core.NumCategories)
	assert.Equal(t, core.Combustivel, cmp.Categories[0].Category)
	assert.Equal(t, core.Cents(-400), cmp.Categories[0].Delta)
	assert.Equal(t, core.Cents(200), cmp.Categories[2].Delta)
	assert.Equal(t, core.Cents(-200), cmp.Delta)
}

func TestTimeline(t *testing.T) {
	es := []core.Expense{
		exp("a", "T1", core.Pedagio, 10, day0, nil),
		exp("b", "T1", core.Pedagio, 20, day0.Add(2*time.Hour), nil),
		exp("c", "T1", core.Pedagio, 30, day0.AddDate(0, 0, 1), nil),
	}
	days := Timeline(es, nil)
	require.Len(t, days, 2)
	assert.Equal(t, core.Cents(30), days[0].Total)
	assert.Equal(t, core.Cents(30), days[1].Total)
	assert.Equal(t, "b", days[1].Expenses[0].ID)
	assert.Equal(t, "a", days[1].Expenses[1].ID)

	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skip("tzdata not available")
	}
	late := exp("late", "T1", core.Pedagio, 1, time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC), nil)
	local := Timeline([]core.Expense{late}, sp)
	require.Len(t, local, 1)
	assert.Equal(t, 10, local[0].Date.Day())
}

func TestAggregateReportsOverflow(t *testing.T) {
	half := int64(math.MaxInt64 / 2)
	// spread over categories so only the grand total overflows
	es := []core.Expense{
		exp("1", "T1", core.Combustivel, half, day0, nil),
		exp("2", "T1", core.Pedagio, half, day0, nil),
		exp("3", "T1", core.Outros, half, day0, nil),
	}
	_, err := AggregateByCategory(es)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, err, core.ErrAmountOverflow)
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "3", ve.ID)

	_, err = AggregateByTruck(es)
	assert.ErrorIs(t, err, core.ErrAmountOverflow)

	_, err = Overview(nil, []core.Income{
		{ID: "i1", Amount: core.Cents(half), CreatedAt: day0},
		{ID: "i2", Amount: core.Cents(half), CreatedAt: day0},
		{ID: "i3", Amount: core.Cents(half), CreatedAt: day0},
	}, core.DateRange{})
	assert.ErrorIs(t, err, core.ErrAmountOverflow)
}

func TestCategoryTotalsJSON(t *testing.T) {
	totals, err := CategoryTotals{}.Add(core.Pedagio, core.Cents(1234))
	require.NoError(t, err)
	b, err := totals.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"combustivel":"0.00","manutencao":"0.00","pedagio":"12.34","comissao":"0.00","outros":"0.00"}`, string(b))
}

package services

import (
	"context"
	"time"

	"fleetcost/internal/analytics"
	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
)

// ReportService assembles the read models behind the dashboard. All
// arithmetic lives in the analytics package; this layer only loads rows.
type ReportService struct {
	repos    *repository.Repositories
	trips    *TripManager
	logger   *log.Logger
	location *time.Location
}

func NewReportService(repos *repository.Repositories, trips *TripManager, loc *time.Location, deps Deps) *ReportService {
	deps = deps.withDefaults()
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		repos:    repos,
		trips:    trips,
		logger:   deps.Logger.WithComponent(log.ComponentReport),
		location: loc,
	}
}

// TripReport is a trip cost summary with its profit projection.
type TripReport struct {
	analytics.CostTripSummary
	Profit analytics.ProfitResult
}

// TimelineDay is one day of the truck timeline with image links.
type TimelineDay struct {
	Date     time.Time
	Total    core.Money
	Expenses []ExpenseView
}

type TruckReport struct {
	Truck       core.Truck
	Range       core.DateRange
	Categories  analytics.CategoryTotals
	Total       core.Money
	Timeline    []TimelineDay
	Trips       []TripReport
	CurrentTrip *core.Trip
}

// TruckReport builds the truck detail view for rng.
func (s *ReportService) TruckReport(ctx context.Context, org, truckID string, rng core.DateRange) (TruckReport, error) {
	if err := rng.Validate(); err != nil {
		return TruckReport{}, err
	}
	truck, err := s.repos.Trucks.Get(ctx, org, truckID)
	if err != nil {
		return TruckReport{}, err
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{TruckID: truckID, Range: rng})
	if err != nil {
		return TruckReport{}, err
	}

	totals, err := analytics.AggregateByCategory(expenses)
	if err != nil {
		return TruckReport{}, err
	}

	trips, err := s.tripsFor(ctx, org, expenses)
	if err != nil {
		return TruckReport{}, err
	}
	grouped, err := analytics.GroupByTrip(expenses, trips)
	if err != nil {
		return TruckReport{}, err
	}
	summaries := analytics.SortTripSummaries(grouped)
	tripReports := make([]TripReport, len(summaries))
	for i, sum := range summaries {
		tripReports[i] = TripReport{CostTripSummary: sum, Profit: analytics.TripProfit(sum)}
	}

	ids := make([]string, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	images, err := s.repos.Images.ListByExpenses(ctx, org, ids)
	if err != nil {
		return TruckReport{}, err
	}
	days := analytics.Timeline(expenses, s.location)
	timeline := make([]TimelineDay, len(days))
	for i, d := range days {
		views := make([]ExpenseView, len(d.Expenses))
		for j, e := range d.Expenses {
			views[j] = ExpenseView{Expense: e, Images: images[e.ID]}
		}
		timeline[i] = TimelineDay{Date: d.Date, Total: d.Total, Expenses: views}
	}

	current, err := s.trips.currentTrip(ctx, org, truckID)
	if err != nil {
		return TruckReport{}, err
	}

	s.logger.DebugContext(ctx, "Truck report built",
		log.FieldOrganization, org,
		log.FieldTruckID, truckID,
		log.FieldCount, len(expenses))

	return TruckReport{
		Truck:       truck,
		Range:       rng,
		Categories:  totals,
		Total:       totals.Total(),
		Timeline:    timeline,
		Trips:       tripReports,
		CurrentTrip: current,
	}, nil
}

func (s *ReportService) tripsFor(ctx context.Context, org string, expenses []core.Expense) (map[string]core.Trip, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range expenses {
		if e.TripID == nil {
			continue
		}
		if _, ok := seen[*e.TripID]; !ok {
			seen[*e.TripID] = struct{}{}
			ids = append(ids, *e.TripID)
		}
	}
	trips, err := s.repos.Trips.ListByIDs(ctx, org, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.Trip, len(trips))
	for _, t := range trips {
		out[t.ID] = t
	}
	return out, nil
}

// FleetOverview returns the fleet-wide totals and period profit for rng.
func (s *ReportService) FleetOverview(ctx context.Context, org string, rng core.DateRange) (analytics.OverviewResult, error) {
	if err := rng.Validate(); err != nil {
		return analytics.OverviewResult{}, err
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{Range: rng})
	if err != nil {
		return analytics.OverviewResult{}, err
	}
	incomes, err := s.repos.Incomes.List(ctx, org, rng)
	if err != nil {
		return analytics.OverviewResult{}, err
	}
	return analytics.Overview(expenses, incomes, rng)
}

// RankedTruck is a ranking entry with the truck's display fields.
type RankedTruck struct {
	analytics.TruckAggregate
	Name  string
	Plate string
}

// FleetRanking returns the topN trucks by cost in rng. Deleted trucks are
// left out of the ranking.
func (s *ReportService) FleetRanking(ctx context.Context, org string, topN int, rng core.DateRange) ([]RankedTruck, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{Range: rng})
	if err != nil {
		return nil, err
	}
	byTruck, err := analytics.AggregateByTruck(expenses)
	if err != nil {
		return nil, err
	}
	trucks, err := s.repos.Trucks.List(ctx, org, repository.TruckFilter{}, repository.Page{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]core.Truck, len(trucks))
	for _, t := range trucks {
		byID[t.ID] = t
	}
	for id := range byTruck {
		if _, ok := byID[id]; !ok {
			delete(byTruck, id)
		}
	}

	ranked := analytics.FleetRanking(byTruck, topN)
	out := make([]RankedTruck, len(ranked))
	for i, agg := range ranked {
		t := byID[agg.TruckID]
		out[i] = RankedTruck{TruckAggregate: agg, Name: t.Name, Plate: t.Plate}
	}
	return out, nil
}

// CompareTrucks compares the category totals of two trucks over rng.
func (s *ReportService) CompareTrucks(ctx context.Context, org, truckA, truckB string, rng core.DateRange) (analytics.Comparison, error) {
	if err := rng.Validate(); err != nil {
		return analytics.Comparison{}, err
	}
	a, err := s.truckTotals(ctx, org, truckA, rng)
	if err != nil {
		return analytics.Comparison{}, err
	}
	b, err := s.truckTotals(ctx, org, truckB, rng)
	if err != nil {
		return analytics.Comparison{}, err
	}
	return analytics.CompareTotals(a, b), nil
}

// ComparePeriods compares two periods for one truck, or for the whole fleet
// when truckID is empty.
func (s *ReportService) ComparePeriods(ctx context.Context, org, truckID string, first, second core.DateRange) (analytics.Comparison, error) {
	for _, r := range []core.DateRange{first, second} {
		if err := r.Validate(); err != nil {
			return analytics.Comparison{}, err
		}
	}
	a, err := s.truckTotals(ctx, org, truckID, first)
	if err != nil {
		return analytics.Comparison{}, err
	}
	b, err := s.truckTotals(ctx, org, truckID, second)
	if err != nil {
		return analytics.Comparison{}, err
	}
	return analytics.CompareTotals(a, b), nil
}

func (s *ReportService) truckTotals(ctx context.Context, org, truckID string, rng core.DateRange) (analytics.CategoryTotals, error) {
	if truckID != "" {
		if _, err := s.repos.Trucks.Get(ctx, org, truckID); err != nil {
			return analytics.CategoryTotals{}, err
		}
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{TruckID: truckID, Range: rng})
	if err != nil {
		return analytics.CategoryTotals{}, err
	}
	return analytics.AggregateByCategory(expenses)
}

// TripSettlement is the summary computed when a trip finishes.
type TripSettlement struct {
	Summary analytics.CostTripSummary
	Profit  analytics.ProfitResult
}

// SettleTrip summarizes a trip's costs and profit.
func (s *ReportService) SettleTrip(ctx context.Context, org, tripID string) (TripSettlement, error) {
	trip, err := s.repos.Trips.Get(ctx, org, tripID)
	if err != nil {
		return TripSettlement{}, err
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{TripID: tripID})
	if err != nil {
		return TripSettlement{}, err
	}
	sum, err := analytics.SummarizeTrip(trip, expenses)
	if err != nil {
		return TripSettlement{}, err
	}
	return TripSettlement{Summary: sum, Profit: analytics.TripProfit(sum)}, nil
}

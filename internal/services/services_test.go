package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetcost/internal/amqp"
	"fleetcost/internal/blob"
	"fleetcost/internal/blob/local"
	"fleetcost/internal/core"
	"fleetcost/internal/repository"
	"fleetcost/internal/storage"
	"fleetcost/internal/storage/memory"
)

const org = "org-1"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store    storage.RecordStore
	repos    *repository.Repositories
	clock    *clock
	events   *recordingPublisher
	trips    *TripManager
	fleet    *FleetService
	expenses *ExpenseService
	incomes  *IncomeService
	reports  *ReportService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, memory.New(), nil)
}

// newFixtureWith builds every service over rs. A nil blobs uses a local
// store in a temp dir.
func newFixtureWith(t *testing.T, rs storage.RecordStore, blobs blob.Store) *fixture {
	t.Helper()
	if blobs == nil {
		ls, err := local.New(t.TempDir(), "http://files.test")
		require.NoError(t, err)
		blobs = ls
	}
	c := &clock{t: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}
	repos := repository.New(rs, c.Now)
	deps := Deps{Events: events, Now: c.Now}

	trips := NewTripManager(repos, deps)
	return &fixture{
		store:    rs,
		repos:    repos,
		clock:    c,
		events:   events,
		trips:    trips,
		fleet:    NewFleetService(repos, trips, deps),
		expenses: NewExpenseService(repos, blobs, trips, 2, deps),
		incomes:  NewIncomeService(repos, deps),
		reports:  NewReportService(repos, trips, time.UTC, deps),
	}
}

func (f *fixture) truck(t *testing.T, plate string) core.Truck {
	t.Helper()
	truck, err := f.fleet.CreateTruck(context.Background(), org, CreateTruckInput{Name: "Truck " + plate, Plate: plate})
	require.NoError(t, err)
	return truck
}

func (f *fixture) driver(t *testing.T, nationalID string) core.Driver {
	t.Helper()
	d, err := f.fleet.CreateDriver(context.Background(), org, CreateDriverInput{Name: "Driver " + nationalID, NationalID: nationalID})
	require.NoError(t, err)
	return d
}

func (f *fixture) startTrip(t *testing.T, truck core.Truck, driver core.Driver, odometer int64) core.Trip {
	t.Helper()
	trip, err := f.trips.StartTrip(context.Background(), org, StartTripInput{
		TruckID:       truck.ID,
		DriverID:      driver.ID,
		Origin:        "Santos",
		Destination:   "Campinas",
		StartOdometer: odometer,
	})
	require.NoError(t, err)
	return trip
}

func (f *fixture) expense(t *testing.T, truckID, category string, cents int64) core.Expense {
	t.Helper()
	v, err := f.expenses.RecordExpense(context.Background(), org, RecordExpenseInput{
		TruckID:  truckID,
		Category: category,
		Amount:   core.Cents(cents),
	}, nil)
	require.NoError(t, err)
	return v.Expense
}

func money(c int64) *core.Money {
	m := core.Cents(c)
	return &m
}

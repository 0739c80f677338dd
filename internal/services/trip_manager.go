package services

import (
	"context"
	"errors"
	"strings"

	"fleetcost/internal/amqp"
	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
)

const reasonTripInProgress = "truck already has a started trip"

// TripManager owns the trip state machine. It is the only writer of trip
// status and guarantees at most one started trip per truck.
type TripManager struct {
	repos  *repository.Repositories
	events EventPublisher
	logger *log.Logger
	deps   Deps
}

func NewTripManager(repos *repository.Repositories, deps Deps) *TripManager {
	deps = deps.withDefaults()
	return &TripManager{
		repos:  repos,
		events: deps.Events,
		logger: deps.Logger.WithComponent(log.ComponentTrips),
		deps:   deps,
	}
}

type StartTripInput struct {
	TruckID       string
	DriverID      string
	Origin        string
	Destination   string
	StartOdometer int64
}

// FinancialsPatch updates the freight and commission of a trip. Nil fields
// are left as they are.
type FinancialsPatch struct {
	Frete    *core.Money
	Comissao *core.Money
}

// RoutePatch corrects the origin and destination of a trip. Nil fields are
// left as they are.
type RoutePatch struct {
	Origin      *string
	Destination *string
}

func (p RoutePatch) empty() bool {
	return p.Origin == nil && p.Destination == nil
}

// normalize trims the set fields and rejects blank ones.
func (p RoutePatch) normalize(op, tripID string) (RoutePatch, error) {
	if p.Origin != nil {
		o := strings.TrimSpace(*p.Origin)
		if o == "" {
			return p, core.Invalid(op, core.EntityTrip, tripID, "origin", core.ErrEmptyOrigin)
		}
		p.Origin = &o
	}
	if p.Destination != nil {
		d := strings.TrimSpace(*p.Destination)
		if d == "" {
			return p, core.Invalid(op, core.EntityTrip, tripID, "destination", core.ErrEmptyDestination)
		}
		p.Destination = &d
	}
	return p, nil
}

// StartTrip opens a trip for the truck. The started-trip check runs before
// the insert, inside the store through the partial unique index, and once
// more after the insert, where the loser of a race deletes its own row.
func (m *TripManager) StartTrip(ctx context.Context, org string, in StartTripInput) (core.Trip, error) {
	trip := core.Trip{
		OrganizationID: org,
		TruckID:        in.TruckID,
		DriverID:       in.DriverID,
		Origin:         strings.TrimSpace(in.Origin),
		Destination:    strings.TrimSpace(in.Destination),
		Status:         core.TripStarted,
		StartOdometer:  in.StartOdometer,
		StartedAt:      m.deps.Now().UTC(),
	}
	if err := trip.Validate(); err != nil {
		return core.Trip{}, err
	}

	truck, err := m.repos.Trucks.Get(ctx, org, in.TruckID)
	if err != nil {
		return core.Trip{}, err
	}
	if truck.Status == core.TruckInactive {
		return core.Trip{}, core.InvalidState("start", core.EntityTruck, truck.ID, string(truck.Status), "truck is inactive")
	}
	if _, err := m.repos.Drivers.Get(ctx, org, in.DriverID); err != nil {
		return core.Trip{}, err
	}

	started, err := m.repos.Trips.StartedForTruck(ctx, org, in.TruckID)
	if err != nil {
		return core.Trip{}, err
	}
	if len(started) > 0 {
		return core.Trip{}, core.Conflict("start", core.EntityTrip, started[0].ID, reasonTripInProgress, nil)
	}

	created, err := m.repos.Trips.Create(ctx, trip)
	if errors.Is(err, core.ErrConflict) {
		return core.Trip{}, core.Conflict("start", core.EntityTrip, "", reasonTripInProgress, err)
	}
	if err != nil {
		return core.Trip{}, err
	}

	started, err = m.repos.Trips.StartedForTruck(ctx, org, in.TruckID)
	if err != nil {
		return core.Trip{}, m.rollbackStart(ctx, created, err)
	}
	if len(started) == 0 || started[0].ID != created.ID {
		return core.Trip{}, m.rollbackStart(ctx, created,
			core.Conflict("start", core.EntityTrip, created.ID, reasonTripInProgress, nil))
	}

	m.logger.InfoContext(ctx, "Trip started",
		log.FieldOrganization, org,
		log.FieldTripID, created.ID,
		log.FieldTruckID, created.TruckID,
		log.FieldDriverID, created.DriverID)
	publish(ctx, m.events, m.logger,
		amqp.NewEvent(amqp.EventTripStarted, org, created.ID, created.TruckID, created.StartedAt))
	return created, nil
}

// rollbackStart deletes a trip row that lost the start race and returns
// cause. A failed delete is reported alongside it.
func (m *TripManager) rollbackStart(ctx context.Context, trip core.Trip, cause error) error {
	if err := m.repos.Trips.Delete(ctx, trip.OrganizationID, trip.ID); err != nil {
		m.logger.ErrorContext(ctx, "Failed to remove trip after lost start race",
			log.FieldTripID, trip.ID, log.FieldError, err)
		return errors.Join(cause, err)
	}
	m.logger.WarnContext(ctx, "Concurrent trip start detected, insert undone",
		log.FieldTripID, trip.ID, log.FieldTruckID, trip.TruckID)
	return cause
}

// FinalizeTrip closes a started trip. The odometer is checked first, so a
// bad reading never changes the trip. The status update is conditional on
// the trip still being started.
func (m *TripManager) FinalizeTrip(ctx context.Context, org, tripID string, endOdometer int64) (core.Trip, error) {
	trip, err := m.repos.Trips.Get(ctx, org, tripID)
	if err != nil {
		return core.Trip{}, err
	}
	if endOdometer < 0 {
		return core.Trip{}, core.Invalid("finalize", core.EntityTrip, tripID, "end_odometer", core.ErrNegativeOdometer)
	}
	if endOdometer < trip.StartOdometer {
		return core.Trip{}, core.Invalid("finalize", core.EntityTrip, tripID, "end_odometer", core.ErrOdometerBelowStart)
	}
	if err := trip.TransitionTo(core.TripFinished); err != nil {
		return core.Trip{}, core.InvalidState("finalize", core.EntityTrip, tripID, string(trip.Status), "trip is not started")
	}

	endedAt := m.deps.Now().UTC()
	ok, err := m.repos.Trips.Finish(ctx, org, tripID, endOdometer, endedAt)
	if err != nil {
		return core.Trip{}, err
	}
	if !ok {
		return core.Trip{}, core.InvalidState("finalize", core.EntityTrip, tripID, string(core.TripFinished), "trip is no longer started")
	}

	trip.Status = core.TripFinished
	trip.EndOdometer = &endOdometer
	trip.EndedAt = &endedAt

	m.logger.InfoContext(ctx, "Trip finished",
		log.FieldOrganization, org,
		log.FieldTripID, trip.ID,
		log.FieldTruckID, trip.TruckID,
		"distance_km", endOdometer-trip.StartOdometer)
	publish(ctx, m.events, m.logger,
		amqp.NewEvent(amqp.EventTripFinished, org, trip.ID, trip.TruckID, endedAt))
	return trip, nil
}

// CurrentTrip returns the truck's started trip, or nil when it is idle.
func (m *TripManager) CurrentTrip(ctx context.Context, org, truckID string) (*core.Trip, error) {
	if _, err := m.repos.Trucks.Get(ctx, org, truckID); err != nil {
		return nil, err
	}
	return m.currentTrip(ctx, org, truckID)
}

func (m *TripManager) currentTrip(ctx context.Context, org, truckID string) (*core.Trip, error) {
	started, err := m.repos.Trips.StartedForTruck(ctx, org, truckID)
	if err != nil {
		return nil, err
	}
	if len(started) == 0 {
		return nil, nil
	}
	t := started[0]
	return &t, nil
}

// UpdateFinancials records freight and/or commission on a trip in any
// status. It never changes the status.
func (m *TripManager) UpdateFinancials(ctx context.Context, org, tripID string, patch FinancialsPatch) (core.Trip, error) {
	if patch.Frete != nil && patch.Frete.IsNegative() {
		return core.Trip{}, core.Invalid("update financials", core.EntityTrip, tripID, "frete", core.ErrNegativeAmount)
	}
	if patch.Comissao != nil && patch.Comissao.IsNegative() {
		return core.Trip{}, core.Invalid("update financials", core.EntityTrip, tripID, "comissao", core.ErrNegativeAmount)
	}
	if err := m.repos.Trips.SetFinancials(ctx, org, tripID, patch.Frete, patch.Comissao); err != nil {
		return core.Trip{}, err
	}
	trip, err := m.repos.Trips.Get(ctx, org, tripID)
	if err != nil {
		return core.Trip{}, err
	}
	if patch.Frete == nil && patch.Comissao == nil {
		return trip, nil
	}
	m.logger.InfoContext(ctx, "Trip financials updated",
		log.FieldOrganization, org,
		log.FieldTripID, tripID,
		"complete", trip.FinancialsComplete())
	return trip, nil
}

// UpdateRoute corrects the origin and/or destination of a trip in any
// status. Blank values are rejected.
func (m *TripManager) UpdateRoute(ctx context.Context, org, tripID string, patch RoutePatch) (core.Trip, error) {
	patch, err := patch.normalize("update route", tripID)
	if err != nil {
		return core.Trip{}, err
	}
	if err := m.repos.Trips.Patch(ctx, org, tripID, repository.TripPatch{
		Origin:      patch.Origin,
		Destination: patch.Destination,
	}); err != nil {
		return core.Trip{}, err
	}
	trip, err := m.repos.Trips.Get(ctx, org, tripID)
	if err != nil {
		return core.Trip{}, err
	}
	if !patch.empty() {
		m.logger.InfoContext(ctx, "Trip route updated",
			log.FieldOrganization, org,
			log.FieldTripID, tripID,
			"origin", trip.Origin,
			"destination", trip.Destination)
	}
	return trip, nil
}

// applyExpenseEdit writes the commission and route carried by an expense
// edit onto its trip in one update.
func (m *TripManager) applyExpenseEdit(ctx context.Context, org, tripID string, comissao *core.Money, route RoutePatch) error {
	if comissao == nil && route.empty() {
		return nil
	}
	if err := m.repos.Trips.Patch(ctx, org, tripID, repository.TripPatch{
		Comissao:    comissao,
		Origin:      route.Origin,
		Destination: route.Destination,
	}); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "Trip updated from expense edit",
		log.FieldOrganization, org,
		log.FieldTripID, tripID,
		"commission", comissao != nil,
		"route", !route.empty())
	return nil
}

func (m *TripManager) GetTrip(ctx context.Context, org, tripID string) (core.Trip, error) {
	return m.repos.Trips.Get(ctx, org, tripID)
}

// ListTruckTrips returns the truck's trips, most recent first.
func (m *TripManager) ListTruckTrips(ctx context.Context, org, truckID string, page repository.Page) ([]core.Trip, error) {
	if _, err := m.repos.Trucks.Get(ctx, org, truckID); err != nil {
		return nil, err
	}
	return m.repos.Trips.ListByTruck(ctx, org, truckID, page)
}

package services

import (
	"context"
	"errors"
	"strings"

	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
)

// FleetService administers trucks and drivers.
type FleetService struct {
	repos  *repository.Repositories
	trips  *TripManager
	logger *log.Logger
}

func NewFleetService(repos *repository.Repositories, trips *TripManager, deps Deps) *FleetService {
	deps = deps.withDefaults()
	return &FleetService{
		repos:  repos,
		trips:  trips,
		logger: deps.Logger.WithComponent(log.ComponentFleet),
	}
}

type CreateTruckInput struct {
	Name   string
	Plate  string
	Status core.TruckStatus
}

type CreateDriverInput struct {
	Name       string
	NationalID string
	Phone      string
}

// NormalizePlate upper-cases a plate and strips spaces and dashes so
// "abc-1d23" and "ABC1D23" collide on the unique index.
func NormalizePlate(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	return strings.NewReplacer(" ", "", "-", "").Replace(p)
}

func (s *FleetService) CreateTruck(ctx context.Context, org string, in CreateTruckInput) (core.Truck, error) {
	status := in.Status
	if status == "" {
		status = core.TruckActive
	}
	t := core.Truck{
		OrganizationID: org,
		Name:           strings.TrimSpace(in.Name),
		Plate:          NormalizePlate(in.Plate),
		Status:         status,
	}
	if err := t.Validate(); err != nil {
		return core.Truck{}, err
	}
	created, err := s.repos.Trucks.Create(ctx, t)
	if errors.Is(err, core.ErrConflict) {
		return core.Truck{}, core.Conflict("create", core.EntityTruck, "", "plate "+t.Plate+" is already registered", err)
	}
	if err != nil {
		return core.Truck{}, err
	}
	s.logger.InfoContext(ctx, "Truck created",
		log.FieldOrganization, org, log.FieldTruckID, created.ID, "plate", created.Plate)
	return created, nil
}

func (s *FleetService) GetTruck(ctx context.Context, org, id string) (core.Truck, error) {
	return s.repos.Trucks.Get(ctx, org, id)
}

func (s *FleetService) ListTrucks(ctx context.Context, org string, f repository.TruckFilter, page repository.Page) ([]core.Truck, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, core.Invalid("list", core.EntityTruck, "", "status", core.ErrInvalidTruckStatus)
	}
	return s.repos.Trucks.List(ctx, org, f, page)
}

// UpdateTruckStatus changes the status. A truck on the road cannot be
// deactivated.
func (s *FleetService) UpdateTruckStatus(ctx context.Context, org, id string, status core.TruckStatus) (core.Truck, error) {
	if !status.Valid() {
		return core.Truck{}, core.Invalid("update status", core.EntityTruck, id, "status", core.ErrInvalidTruckStatus)
	}
	truck, err := s.repos.Trucks.Get(ctx, org, id)
	if err != nil {
		return core.Truck{}, err
	}
	if status == core.TruckInactive {
		if err := s.requireIdle(ctx, "update status", truck); err != nil {
			return core.Truck{}, err
		}
	}
	if err := s.repos.Trucks.UpdateStatus(ctx, org, id, status); err != nil {
		return core.Truck{}, err
	}
	truck.Status = status
	s.logger.InfoContext(ctx, "Truck status changed",
		log.FieldOrganization, org, log.FieldTruckID, id, "status", status)
	return truck, nil
}

// AssignDriver sets or clears (nil driverID) the truck's current driver.
// It is rejected while the truck has a started trip.
func (s *FleetService) AssignDriver(ctx context.Context, org, truckID string, driverID *string) (core.Truck, error) {
	truck, err := s.repos.Trucks.Get(ctx, org, truckID)
	if err != nil {
		return core.Truck{}, err
	}
	if err := s.requireIdle(ctx, "assign driver", truck); err != nil {
		return core.Truck{}, err
	}
	if driverID != nil {
		if _, err := s.repos.Drivers.Get(ctx, org, *driverID); err != nil {
			return core.Truck{}, err
		}
	}
	if err := s.repos.Trucks.SetDriver(ctx, org, truckID, driverID); err != nil {
		return core.Truck{}, err
	}
	truck.CurrentDriverID = driverID
	assigned := ""
	if driverID != nil {
		assigned = *driverID
	}
	s.logger.InfoContext(ctx, "Driver assignment changed",
		log.FieldOrganization, org, log.FieldTruckID, truckID, log.FieldDriverID, assigned)
	return truck, nil
}

// DeleteTruck removes an idle truck. Its trips and expenses are kept and
// still count in fleet totals.
func (s *FleetService) DeleteTruck(ctx context.Context, org, id string) error {
	truck, err := s.repos.Trucks.Get(ctx, org, id)
	if err != nil {
		return err
	}
	if err := s.requireIdle(ctx, "delete", truck); err != nil {
		return err
	}
	if err := s.repos.Trucks.Delete(ctx, org, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Truck deleted", log.FieldOrganization, org, log.FieldTruckID, id)
	return nil
}

func (s *FleetService) requireIdle(ctx context.Context, op string, truck core.Truck) error {
	current, err := s.trips.currentTrip(ctx, truck.OrganizationID, truck.ID)
	if err != nil {
		return err
	}
	if current != nil {
		return core.InvalidState(op, core.EntityTruck, truck.ID, string(core.TripStarted), "truck has a trip in progress")
	}
	return nil
}

func (s *FleetService) CreateDriver(ctx context.Context, org string, in CreateDriverInput) (core.Driver, error) {
	d := core.Driver{
		OrganizationID: org,
		Name:           strings.TrimSpace(in.Name),
		NationalID:     normalizeNationalID(in.NationalID),
		Phone:          strings.TrimSpace(in.Phone),
	}
	if err := d.Validate(); err != nil {
		return core.Driver{}, err
	}
	created, err := s.repos.Drivers.Create(ctx, d)
	if errors.Is(err, core.ErrConflict) {
		return core.Driver{}, core.Conflict("create", core.EntityDriver, "", "national id is already registered", err)
	}
	if err != nil {
		return core.Driver{}, err
	}
	s.logger.InfoContext(ctx, "Driver created", log.FieldOrganization, org, log.FieldDriverID, created.ID)
	return created, nil
}

// normalizeNationalID keeps digits only, so formatted and bare CPFs match.
func normalizeNationalID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(id)
	}
	return b.String()
}

func (s *FleetService) GetDriver(ctx context.Context, org, id string) (core.Driver, error) {
	return s.repos.Drivers.Get(ctx, org, id)
}

func (s *FleetService) ListDrivers(ctx context.Context, org string, page repository.Page) ([]core.Driver, error) {
	return s.repos.Drivers.List(ctx, org, page)
}

// DeleteDriver removes a driver who is not on a started trip and clears
// any truck assignment pointing at them.
func (s *FleetService) DeleteDriver(ctx context.Context, org, id string) error {
	if _, err := s.repos.Drivers.Get(ctx, org, id); err != nil {
		return err
	}
	started, err := s.repos.Trips.StartedForDriver(ctx, org, id)
	if err != nil {
		return err
	}
	if len(started) > 0 {
		return core.InvalidState("delete", core.EntityDriver, id, string(core.TripStarted), "driver is on a trip in progress")
	}
	if err := s.repos.Trucks.ClearDriver(ctx, org, id); err != nil {
		return err
	}
	if err := s.repos.Drivers.Delete(ctx, org, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Driver deleted", log.FieldOrganization, org, log.FieldDriverID, id)
	return nil
}

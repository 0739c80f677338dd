package repository

import (
	"context"
	"time"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

type TripRepository struct{ base }

// Create inserts a trip. A second started trip for the same truck fails with
// a ConflictError raised by the store's partial unique index.
func (r *TripRepository) Create(ctx context.Context, t core.Trip) (core.Trip, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.Trips, storage.Row{
		"id":              t.ID,
		"organization_id": t.OrganizationID,
		"truck_id":        t.TruckID,
		"driver_id":       t.DriverID,
		"origin":          t.Origin,
		"destination":     t.Destination,
		"status":          string(t.Status),
		"start_odometer":  t.StartOdometer,
		"started_at":      t.StartedAt,
		"end_odometer":    nullable(t.EndOdometer),
		"ended_at":        nullable(t.EndedAt),
		"frete_cents":     centsOrNil(t.Frete),
		"comissao_cents":  centsOrNil(t.Comissao),
	})
	if err != nil {
		return core.Trip{}, wrap("create", core.EntityTrip, t.ID, err)
	}
	return tripFromRow(row), nil
}

func (r *TripRepository) Get(ctx context.Context, org, id string) (core.Trip, error) {
	rows, err := r.rs.Select(ctx, storage.Trips, storage.Query{Where: scope(org, storage.Eq("id", id)), Limit: 1})
	if err != nil {
		return core.Trip{}, wrap("get", core.EntityTrip, id, err)
	}
	if len(rows) == 0 {
		return core.Trip{}, core.NotFound("get", core.EntityTrip, id)
	}
	return tripFromRow(rows[0]), nil
}

// StartedForTruck returns every started trip of the truck. More than one
// means the started-trip invariant has been broken by a racing writer.
func (r *TripRepository) StartedForTruck(ctx context.Context, org, truckID string) ([]core.Trip, error) {
	return r.list(ctx, "current", storage.Query{
		Where:   scope(org, storage.Eq("truck_id", truckID), storage.Eq("status", string(core.TripStarted))),
		OrderBy: []storage.Order{storage.Asc("started_at"), storage.Asc("id")},
	})
}

// StartedForDriver returns the started trips the driver is on.
func (r *TripRepository) StartedForDriver(ctx context.Context, org, driverID string) ([]core.Trip, error) {
	return r.list(ctx, "list", storage.Query{
		Where: scope(org, storage.Eq("driver_id", driverID), storage.Eq("status", string(core.TripStarted))),
	})
}

// ListByTruck returns the truck's trips, most recent first.
func (r *TripRepository) ListByTruck(ctx context.Context, org, truckID string, p Page) ([]core.Trip, error) {
	return r.list(ctx, "list", storage.Query{
		Where:   scope(org, storage.Eq("truck_id", truckID)),
		OrderBy: []storage.Order{storage.Desc("started_at"), storage.Asc("id")},
		Offset:  p.Offset,
		Limit:   p.Limit,
	})
}

func (r *TripRepository) ListByIDs(ctx context.Context, org string, ids []string) ([]core.Trip, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, "list", storage.Query{Where: scope(org, storage.In("id", ids...))})
}

func (r *TripRepository) list(ctx context.Context, op string, q storage.Query) ([]core.Trip, error) {
	rows, err := r.rs.Select(ctx, storage.Trips, q)
	if err != nil {
		return nil, wrap(op, core.EntityTrip, "", err)
	}
	out := make([]core.Trip, len(rows))
	for i, row := range rows {
		out[i] = tripFromRow(row)
	}
	return out, nil
}

// Finish moves a started trip to finished. It reports false when the trip
// was no longer started at write time.
func (r *TripRepository) Finish(ctx context.Context, org, id string, endOdometer int64, endedAt time.Time) (bool, error) {
	n, err := r.rs.Update(ctx, storage.Trips, storage.Row{
		"status":       string(core.TripFinished),
		"end_odometer": endOdometer,
		"ended_at":     endedAt.UTC(),
	}, scope(org, storage.Eq("id", id), storage.Eq("status", string(core.TripStarted))))
	if err != nil {
		return false, wrap("finalize", core.EntityTrip, id, err)
	}
	return n > 0, nil
}

// TripPatch holds the editable fields of a trip. Nil fields are left
// untouched.
type TripPatch struct {
	Frete       *core.Money
	Comissao    *core.Money
	Origin      *string
	Destination *string
}

// SetFinancials writes the provided amounts and leaves nil ones untouched.
func (r *TripRepository) SetFinancials(ctx context.Context, org, id string, frete, comissao *core.Money) error {
	return r.Patch(ctx, org, id, TripPatch{Frete: frete, Comissao: comissao})
}

// Patch writes every set field of p in a single update.
func (r *TripRepository) Patch(ctx context.Context, org, id string, p TripPatch) error {
	row := storage.Row{}
	if p.Frete != nil {
		row["frete_cents"] = p.Frete.Cents
	}
	if p.Comissao != nil {
		row["comissao_cents"] = p.Comissao.Cents
	}
	if p.Origin != nil {
		row["origin"] = *p.Origin
	}
	if p.Destination != nil {
		row["destination"] = *p.Destination
	}
	if len(row) == 0 {
		return nil
	}
	n, err := r.rs.Update(ctx, storage.Trips, row, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap("update", core.EntityTrip, id, err)
	}
	if n == 0 {
		return core.NotFound("update", core.EntityTrip, id)
	}
	return nil
}

// Delete removes a trip. Used to undo an insert that lost a start race.
func (r *TripRepository) Delete(ctx context.Context, org, id string) error {
	_, err := r.rs.Delete(ctx, storage.Trips, scope(org, storage.Eq("id", id)))
	return wrap("delete", core.EntityTrip, id, err)
}

func tripFromRow(r storage.Row) core.Trip {
	return core.Trip{
		ID:             str(r, "id"),
		OrganizationID: str(r, "organization_id"),
		TruckID:        str(r, "truck_id"),
		DriverID:       str(r, "driver_id"),
		Origin:         str(r, "origin"),
		Destination:    str(r, "destination"),
		Status:         core.TripStatus(str(r, "status")),
		StartOdometer:  i64(r, "start_odometer"),
		StartedAt:      ts(r, "started_at"),
		EndOdometer:    i64Ptr(r, "end_odometer"),
		EndedAt:        tsPtr(r, "ended_at"),
		Frete:          moneyPtr(r, "frete_cents"),
		Comissao:       moneyPtr(r, "comissao_cents"),
	}
}

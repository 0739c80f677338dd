package repository

import (
	"context"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

type TruckRepository struct{ base }

// TruckFilter narrows ListTrucks. Empty fields are ignored.
type TruckFilter struct {
	Status          core.TruckStatus
	PlateContains   string
	CurrentDriverID string
}

func (r *TruckRepository) Create(ctx context.Context, t core.Truck) (core.Truck, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.Trucks, storage.Row{
		"id":                t.ID,
		"organization_id":   t.OrganizationID,
		"name":              t.Name,
		"plate":             t.Plate,
		"current_driver_id": nullable(t.CurrentDriverID),
		"status":            string(t.Status),
		"created_at":        t.CreatedAt,
	})
	if err != nil {
		return core.Truck{}, wrap("create", core.EntityTruck, t.ID, err)
	}
	return truckFromRow(row), nil
}

func (r *TruckRepository) Get(ctx context.Context, org, id string) (core.Truck, error) {
	rows, err := r.rs.Select(ctx, storage.Trucks, storage.Query{Where: scope(org, storage.Eq("id", id)), Limit: 1})
	if err != nil {
		return core.Truck{}, wrap("get", core.EntityTruck, id, err)
	}
	if len(rows) == 0 {
		return core.Truck{}, core.NotFound("get", core.EntityTruck, id)
	}
	return truckFromRow(rows[0]), nil
}

func (r *TruckRepository) List(ctx context.Context, org string, f TruckFilter, p Page) ([]core.Truck, error) {
	where := scope(org)
	if f.Status != "" {
		where = where.And(storage.Eq("status", string(f.Status)))
	}
	if f.PlateContains != "" {
		where = where.And(storage.ILike("plate", f.PlateContains))
	}
	if f.CurrentDriverID != "" {
		where = where.And(storage.Eq("current_driver_id", f.CurrentDriverID))
	}
	rows, err := r.rs.Select(ctx, storage.Trucks, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{storage.Asc("plate"), storage.Asc("id")},
		Offset:  p.Offset,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, wrap("list", core.EntityTruck, "", err)
	}
	out := make([]core.Truck, len(rows))
	for i, row := range rows {
		out[i] = truckFromRow(row)
	}
	return out, nil
}

// update writes patch and reports NotFound when no truck matched.
func (r *TruckRepository) update(ctx context.Context, op, org, id string, patch storage.Row) error {
	n, err := r.rs.Update(ctx, storage.Trucks, patch, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap(op, core.EntityTruck, id, err)
	}
	if n == 0 {
		return core.NotFound(op, core.EntityTruck, id)
	}
	return nil
}

func (r *TruckRepository) UpdateStatus(ctx context.Context, org, id string, status core.TruckStatus) error {
	return r.update(ctx, "update status", org, id, storage.Row{"status": string(status)})
}

// SetDriver assigns driverID, or clears the assignment when it is nil.
func (r *TruckRepository) SetDriver(ctx context.Context, org, id string, driverID *string) error {
	return r.update(ctx, "assign driver", org, id, storage.Row{"current_driver_id": nullable(driverID)})
}

// ClearDriver unassigns driverID from every truck that currently has it.
func (r *TruckRepository) ClearDriver(ctx context.Context, org, driverID string) error {
	_, err := r.rs.Update(ctx, storage.Trucks, storage.Row{"current_driver_id": nil},
		scope(org, storage.Eq("current_driver_id", driverID)))
	return wrap("clear driver", core.EntityTruck, "", err)
}

func (r *TruckRepository) Delete(ctx context.Context, org, id string) error {
	n, err := r.rs.Delete(ctx, storage.Trucks, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap("delete", core.EntityTruck, id, err)
	}
	if n == 0 {
		return core.NotFound("delete", core.EntityTruck, id)
	}
	return nil
}

func truckFromRow(r storage.Row) core.Truck {
	return core.Truck{
		ID:              str(r, "id"),
		OrganizationID:  str(r, "organization_id"),
		Name:            str(r, "name"),
		Plate:           str(r, "plate"),
		CurrentDriverID: strPtr(r, "current_driver_id"),
		Status:          core.TruckStatus(str(r, "status")),
		CreatedAt:       ts(r, "created_at"),
	}
}

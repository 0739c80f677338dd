package repository

import (
	"context"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

type DriverRepository struct{ base }

func (r *DriverRepository) Create(ctx context.Context, d core.Driver) (core.Driver, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.Drivers, storage.Row{
		"id":              d.ID,
		"organization_id": d.OrganizationID,
		"name":            d.Name,
		"national_id":     d.NationalID,
		"phone":           d.Phone,
		"created_at":      d.CreatedAt,
	})
	if err != nil {
		return core.Driver{}, wrap("create", core.EntityDriver, d.ID, err)
	}
	return driverFromRow(row), nil
}

func (r *DriverRepository) Get(ctx context.Context, org, id string) (core.Driver, error) {
	rows, err := r.rs.Select(ctx, storage.Drivers, storage.Query{Where: scope(org, storage.Eq("id", id)), Limit: 1})
	if err != nil {
		return core.Driver{}, wrap("get", core.EntityDriver, id, err)
	}
	if len(rows) == 0 {
		return core.Driver{}, core.NotFound("get", core.EntityDriver, id)
	}
	return driverFromRow(rows[0]), nil
}

func (r *DriverRepository) List(ctx context.Context, org string, p Page) ([]core.Driver, error) {
	rows, err := r.rs.Select(ctx, storage.Drivers, storage.Query{
		Where:   scope(org),
		OrderBy: []storage.Order{storage.Asc("name"), storage.Asc("id")},
		Offset:  p.Offset,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, wrap("list", core.EntityDriver, "", err)
	}
	out := make([]core.Driver, len(rows))
	for i, row := range rows {
		out[i] = driverFromRow(row)
	}
	return out, nil
}

func (r *DriverRepository) Delete(ctx context.Context, org, id string) error {
	n, err := r.rs.Delete(ctx, storage.Drivers, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap("delete", core.EntityDriver, id, err)
	}
	if n == 0 {
		return core.NotFound("delete", core.EntityDriver, id)
	}
	return nil
}

func driverFromRow(r storage.Row) core.Driver {
	return core.Driver{
		ID:             str(r, "id"),
		OrganizationID: str(r, "organization_id"),
		Name:           str(r, "name"),
		NationalID:     str(r, "national_id"),
		Phone:          str(r, "phone"),
		CreatedAt:      ts(r, "created_at"),
	}
}

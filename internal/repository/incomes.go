package repository

import (
	"context"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

type IncomeRepository struct{ base }

func (r *IncomeRepository) Create(ctx context.Context, in core.Income) (core.Income, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.Incomes, storage.Row{
		"id":              in.ID,
		"organization_id": in.OrganizationID,
		"amount_cents":    in.Amount.Cents,
		"description":     in.Description,
		"created_at":      in.CreatedAt,
	})
	if err != nil {
		return core.Income{}, wrap("create", core.EntityIncome, in.ID, err)
	}
	return incomeFromRow(row), nil
}

// List returns incomes inside rng, newest first. A zero range lists all.
func (r *IncomeRepository) List(ctx context.Context, org string, rng core.DateRange) ([]core.Income, error) {
	rows, err := r.rs.Select(ctx, storage.Incomes, storage.Query{
		Where:   scope(org, rangePredicates("created_at", rng)...),
		OrderBy: []storage.Order{storage.Desc("created_at"), storage.Asc("id")},
	})
	if err != nil {
		return nil, wrap("list", core.EntityIncome, "", err)
	}
	out := make([]core.Income, len(rows))
	for i, row := range rows {
		out[i] = incomeFromRow(row)
	}
	return out, nil
}

func incomeFromRow(r storage.Row) core.Income {
	return core.Income{
		ID:             str(r, "id"),
		OrganizationID: str(r, "organization_id"),
		Amount:         core.Cents(i64(r, "amount_cents")),
		Description:    str(r, "description"),
		CreatedAt:      ts(r, "created_at"),
	}
}

package repository

import (
	"context"

	"fleetcost/internal/core"
	"fleetcost/internal/storage"
)

type ExpenseRepository struct{ base }

// ExpenseFilter narrows List. Empty fields are ignored.
type ExpenseFilter struct {
	TruckID string
	TripID  string
	Range   core.DateRange
}

func (r *ExpenseRepository) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.Expenses, storage.Row{
		"id":              e.ID,
		"organization_id": e.OrganizationID,
		"category":        e.Category.String(),
		"amount_cents":    e.Amount.Cents,
		"description":     e.Description,
		"truck_id":        e.TruckID,
		"driver_id":       nullable(e.DriverID),
		"trip_id":         nullable(e.TripID),
		"created_at":      e.CreatedAt,
	})
	if err != nil {
		return core.Expense{}, wrap("create", core.EntityExpense, e.ID, err)
	}
	return expenseFromRow(row)
}

func (r *ExpenseRepository) Get(ctx context.Context, org, id string) (core.Expense, error) {
	rows, err := r.rs.Select(ctx, storage.Expenses, storage.Query{Where: scope(org, storage.Eq("id", id)), Limit: 1})
	if err != nil {
		return core.Expense{}, wrap("get", core.EntityExpense, id, err)
	}
	if len(rows) == 0 {
		return core.Expense{}, core.NotFound("get", core.EntityExpense, id)
	}
	return expenseFromRow(rows[0])
}

// List returns matching expenses, newest first.
func (r *ExpenseRepository) List(ctx context.Context, org string, f ExpenseFilter) ([]core.Expense, error) {
	where := scope(org)
	if f.TruckID != "" {
		where = where.And(storage.Eq("truck_id", f.TruckID))
	}
	if f.TripID != "" {
		where = where.And(storage.Eq("trip_id", f.TripID))
	}
	where = where.And(rangePredicates("created_at", f.Range)...)
	rows, err := r.rs.Select(ctx, storage.Expenses, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{storage.Desc("created_at"), storage.Asc("id")},
	})
	if err != nil {
		return nil, wrap("list", core.EntityExpense, "", err)
	}
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := expenseFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update changes amount and description. Nil fields are left as they are.
func (r *ExpenseRepository) Update(ctx context.Context, org, id string, amount *core.Money, description *string) error {
	patch := storage.Row{}
	if amount != nil {
		patch["amount_cents"] = amount.Cents
	}
	if description != nil {
		patch["description"] = *description
	}
	if len(patch) == 0 {
		return nil
	}
	n, err := r.rs.Update(ctx, storage.Expenses, patch, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap("update", core.EntityExpense, id, err)
	}
	if n == 0 {
		return core.NotFound("update", core.EntityExpense, id)
	}
	return nil
}

func (r *ExpenseRepository) Delete(ctx context.Context, org, id string) error {
	n, err := r.rs.Delete(ctx, storage.Expenses, scope(org, storage.Eq("id", id)))
	if err != nil {
		return wrap("delete", core.EntityExpense, id, err)
	}
	if n == 0 {
		return core.NotFound("delete", core.EntityExpense, id)
	}
	return nil
}

// expenseFromRow rejects rows whose category is outside the known set rather
// than dropping them, so totals never silently lose money.
func expenseFromRow(r storage.Row) (core.Expense, error) {
	id := str(r, "id")
	cat, err := core.ParseCategory(str(r, "category"))
	if err != nil {
		return core.Expense{}, core.Invalid("load", core.EntityExpense, id, "category", core.ErrUnknownCategory)
	}
	return core.Expense{
		ID:             id,
		OrganizationID: str(r, "organization_id"),
		Category:       cat,
		Amount:         core.Cents(i64(r, "amount_cents")),
		Description:    str(r, "description"),
		TruckID:        str(r, "truck_id"),
		DriverID:       strPtr(r, "driver_id"),
		TripID:         strPtr(r, "trip_id"),
		CreatedAt:      ts(r, "created_at"),
	}, nil
}

type ImageRepository struct{ base }

func (r *ImageRepository) Create(ctx context.Context, img core.ExpenseImage) (core.ExpenseImage, error) {
	if img.ID == "" {
		img.ID = newID()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = r.now()
	}
	row, err := r.rs.Insert(ctx, storage.ExpenseImages, storage.Row{
		"id":              img.ID,
		"organization_id": img.OrganizationID,
		"expense_id":      img.ExpenseID,
		"url":             img.URL,
		"created_at":      img.CreatedAt,
	})
	if err != nil {
		return core.ExpenseImage{}, wrap("create", core.EntityExpenseImage, img.ID, err)
	}
	return imageFromRow(row), nil
}

// ListByExpenses returns the images of the given expenses keyed by expense id.
func (r *ImageRepository) ListByExpenses(ctx context.Context, org string, expenseIDs []string) (map[string][]core.ExpenseImage, error) {
	out := make(map[string][]core.ExpenseImage)
	if len(expenseIDs) == 0 {
		return out, nil
	}
	rows, err := r.rs.Select(ctx, storage.ExpenseImages, storage.Query{
		Where:   scope(org, storage.In("expense_id", expenseIDs...)),
		OrderBy: []storage.Order{storage.Asc("created_at"), storage.Asc("id")},
	})
	if err != nil {
		return nil, wrap("list", core.EntityExpenseImage, "", err)
	}
	for _, row := range rows {
		img := imageFromRow(row)
		out[img.ExpenseID] = append(out[img.ExpenseID], img)
	}
	return out, nil
}

func (r *ImageRepository) DeleteByExpense(ctx context.Context, org, expenseID string) error {
	_, err := r.rs.Delete(ctx, storage.ExpenseImages, scope(org, storage.Eq("expense_id", expenseID)))
	return wrap("delete", core.EntityExpenseImage, "", err)
}

func imageFromRow(r storage.Row) core.ExpenseImage {
	return core.ExpenseImage{
		ID:             str(r, "id"),
		OrganizationID: str(r, "organization_id"),
		ExpenseID:      str(r, "expense_id"),
		URL:            str(r, "url"),
		CreatedAt:      ts(r, "created_at"),
	}
}

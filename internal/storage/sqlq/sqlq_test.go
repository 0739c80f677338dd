package sqlq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcost/internal/storage"
)

func TestSelectPostgres(t *testing.T) {
	tbl, err := storage.Lookup(storage.Trucks)
	require.NoError(t, err)

	q, args, cols := Select(Postgres, tbl, storage.Query{
		Columns: []string{"id", "plate"},
		Where: storage.Where(
			storage.Eq("organization_id", "org"),
			storage.ILike("plate", "a_b%"),
			storage.In("status", "active", "maintenance"),
		),
		OrderBy: []storage.Order{storage.Desc("created_at"), storage.Asc("id")},
		Offset:  20,
	})
	assert.Equal(t, `SELECT "id", "plate" FROM "trucks" WHERE "organization_id" = $1 AND "plate" ILIKE $2 ESCAPE '\' AND "status" IN ($3, $4) ORDER BY "created_at" DESC, "id" ASC OFFSET 20`, q)
	assert.Equal(t, []any{"org", `%a\_b\%%`, "active", "maintenance"}, args)
	assert.Equal(t, []string{"id", "plate"}, cols)
}

func TestSelectSQLiteOffsetNeedsLimit(t *testing.T) {
	tbl, err := storage.Lookup(storage.Expenses)
	require.NoError(t, err)

	at := time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC)
	q, args, _ := Select(SQLite, tbl, storage.Query{
		Columns: []string{"id"},
		Where:   storage.Where(storage.Gte("created_at", at), storage.IsNull("trip_id")),
		Offset:  5,
	})
	assert.Equal(t, `SELECT "id" FROM "expenses" WHERE "created_at" >= ? AND "trip_id" IS NULL LIMIT -1 OFFSET 5`, q)
	assert.Equal(t, []any{"2024-02-03T04:05:06.000007Z"}, args)
}

func TestEmptyInMatchesNothing(t *testing.T) {
	tbl, err := storage.Lookup(storage.ExpenseImages)
	require.NoError(t, err)
	q, args, _ := Select(Postgres, tbl, storage.Query{Columns: []string{"url"}, Where: storage.Where(storage.In[string]("expense_id"))})
	assert.Equal(t, `SELECT "url" FROM "expense_images" WHERE 1 = 0`, q)
	assert.Empty(t, args)
}

func TestInsertAndUpdate(t *testing.T) {
	tbl, err := storage.Lookup(storage.Incomes)
	require.NoError(t, err)

	q, args := Insert(Postgres, tbl, storage.Row{"id": "i1", "amount_cents": int64(500), "organization_id": "org"})
	assert.Equal(t, `INSERT INTO "incomes" ("amount_cents", "id", "organization_id") VALUES ($1, $2, $3) RETURNING "id", "organization_id", "amount_cents", "description", "created_at"`, q)
	assert.Equal(t, []any{int64(500), "i1", "org"}, args)

	q, args = Update(SQLite, tbl, storage.Row{"description": "x"}, storage.Where(storage.Eq("id", "i1"), storage.Eq("organization_id", "org")))
	assert.Equal(t, `UPDATE "incomes" SET "description" = ? WHERE "id" = ? AND "organization_id" = ?`, q)
	assert.Equal(t, []any{"x", "i1", "org"}, args)
}

func TestScanConvertsDriverValues(t *testing.T) {
	tbl, err := storage.Lookup(storage.Trips)
	require.NoError(t, err)
	row, err := Scan(tbl, []string{"id", "start_odometer", "started_at", "ended_at"},
		[]any{[]byte("t1"), int64(42), "2024-01-02T03:04:05.000000Z", nil})
	require.NoError(t, err)
	assert.Equal(t, "t1", row["id"])
	assert.Equal(t, int64(42), row["start_odometer"])
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), row["started_at"])
	assert.Nil(t, row["ended_at"])
}

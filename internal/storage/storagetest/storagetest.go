// Package storagetest holds the behaviour every RecordStore backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcost/internal/storage"
)

// Run exercises s. Rows are written under a random organization so the same
// database can be reused between runs.
func Run(t *testing.T, s storage.RecordStore) {
	t.Helper()
	org := "org-" + uuid.NewString()

	t.Run("InsertSelectRoundTrip", func(t *testing.T) { insertSelect(t, s, org) })
	t.Run("StartedTripIsUniquePerTruck", func(t *testing.T) { startedTripUnique(t, s, org) })
	t.Run("ConditionalUpdate", func(t *testing.T) { conditionalUpdate(t, s, org) })
	t.Run("FiltersAndPaging", func(t *testing.T) { filtersAndPaging(t, s, org) })
	t.Run("Delete", func(t *testing.T) { deleteRows(t, s, org) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, s.Ping(context.Background())) })
}

func trip(org, truck, status string, started time.Time) storage.Row {
	return storage.Row{
		"id":              uuid.NewString(),
		"organization_id": org,
		"truck_id":        truck,
		"driver_id":       "driver",
		"origin":          "Curitiba",
		"destination":     "Joinville",
		"status":          status,
		"start_odometer":  int64(1200),
		"started_at":      started,
	}
}

func insertSelect(t *testing.T, s storage.RecordStore, org string) {
	ctx := context.Background()
	at := time.Date(2024, 7, 9, 10, 11, 12, 345678000, time.UTC)
	row := trip(org, uuid.NewString(), "finished", at)
	row["end_odometer"] = int64(1500)
	row["frete_cents"] = int64(250000)

	inserted, err := s.Insert(ctx, storage.Trips, row)
	require.NoError(t, err)
	assert.Equal(t, row["id"], inserted["id"])
	assert.Nil(t, inserted["comissao_cents"])

	rows, err := s.Select(ctx, storage.Trips, storage.Query{
		Where: storage.Where(storage.Eq("organization_id", org), storage.Eq("id", row["id"])),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, int64(1500), got["end_odometer"])
	assert.Equal(t, int64(250000), got["frete_cents"])
	assert.Nil(t, got["ended_at"])
	assert.Nil(t, got["comissao_cents"])
	started, ok := got["started_at"].(time.Time)
	require.True(t, ok, "started_at is %T", got["started_at"])
	assert.True(t, at.Truncate(time.Millisecond).Equal(started.Truncate(time.Millisecond)))
}

func startedTripUnique(t *testing.T, s storage.RecordStore, org string) {
	ctx := context.Background()
	truck := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.Insert(ctx, storage.Trips, trip(org, truck, "started", now))
	require.NoError(t, err)
	_, err = s.Insert(ctx, storage.Trips, trip(org, truck, "started", now))
	require.ErrorIs(t, err, storage.ErrUniqueViolation)

	_, err = s.Insert(ctx, storage.Trips, trip(org, truck, "finished", now))
	require.NoError(t, err)
	_, err = s.Insert(ctx, storage.Trips, trip(org, truck, "finished", now))
	require.NoError(t, err)
}

func conditionalUpdate(t *testing.T, s storage.RecordStore, org string) {
	ctx := context.Background()
	row := trip(org, uuid.NewString(), "started", time.Now().UTC())
	_, err := s.Insert(ctx, storage.Trips, row)
	require.NoError(t, err)

	where := storage.Where(
		storage.Eq("organization_id", org),
		storage.Eq("id", row["id"]),
		storage.Eq("status", "started"),
	)
	patch := storage.Row{"status": "finished", "end_odometer": int64(1300), "ended_at": time.Now().UTC()}
	n, err := s.Update(ctx, storage.Trips, patch, where)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Update(ctx, storage.Trips, patch, where)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Update(ctx, storage.Trips, storage.Row{"comissao_cents": nil}, storage.Where(storage.Eq("id", row["id"])))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func filtersAndPaging(t *testing.T, s storage.RecordStore, org string) {
	ctx := context.Background()
	truck := uuid.NewString()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", truck, i)
		_, err := s.Insert(ctx, storage.Expenses, storage.Row{
			"id":              ids[i],
			"organization_id": org,
			"category":        "combustivel",
			"amount_cents":    int64(1000 + i),
			"description":     fmt.Sprintf("Posto Ipiranga %d", i),
			"truck_id":        truck,
			"created_at":      base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}
	scope := storage.Where(storage.Eq("organization_id", org), storage.Eq("truck_id", truck))

	rows, err := s.Select(ctx, storage.Expenses, storage.Query{
		Columns: []string{"id", "amount_cents"},
		Where:   scope.And(storage.Gte("created_at", base.AddDate(0, 0, 1)), storage.Lte("created_at", base.AddDate(0, 0, 4))),
		OrderBy: []storage.Order{storage.Desc("created_at")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, ids[4], rows[0]["id"])
	assert.Equal(t, int64(1004), rows[0]["amount_cents"])

	rows, err = s.Select(ctx, storage.Expenses, storage.Query{
		Where:   scope.And(storage.ILike("description", "IPIRANGA 3")),
		OrderBy: []storage.Order{storage.Asc("id")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ids[3], rows[0]["id"])

	rows, err = s.Select(ctx, storage.Expenses, storage.Query{
		Columns: []string{"id"},
		Where:   scope,
		OrderBy: []storage.Order{storage.Asc("id")},
		Offset:  2,
		Limit:   3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ids[2], rows[0]["id"])

	rows, err = s.Select(ctx, storage.Expenses, storage.Query{Where: scope.And(storage.In("id", ids[0], ids[5]))})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Select(ctx, storage.Expenses, storage.Query{Where: scope.And(storage.IsNull("trip_id"))})
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func deleteRows(t *testing.T, s storage.RecordStore, org string) {
	ctx := context.Background()
	id := uuid.NewString()
	_, err := s.Insert(ctx, storage.Incomes, storage.Row{
		"id": id, "organization_id": org, "amount_cents": int64(10), "created_at": time.Now().UTC(),
	})
	require.NoError(t, err)

	n, err := s.Delete(ctx, storage.Incomes, storage.Where(storage.Eq("organization_id", "someone-else"), storage.Eq("id", id)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Delete(ctx, storage.Incomes, storage.Where(storage.Eq("organization_id", org), storage.Eq("id", id)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

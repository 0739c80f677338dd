package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fleetcost/internal/amqp"
	"fleetcost/internal/blob"
	"fleetcost/internal/core"
	"fleetcost/internal/storage"
	"fleetcost/internal/storage/memory"
)

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Upload(ctx context.Context, path, contentType string, r io.Reader) (blob.Handle, error) {
	args := m.Called(ctx, path, contentType, r)
	return args.Get(0).(blob.Handle), args.Error(1)
}

func (m *mockBlobs) PublicURL(h blob.Handle) string {
	return m.Called(h).String(0)
}

func (m *mockBlobs) Delete(ctx context.Context, h blob.Handle) error {
	return m.Called(ctx, h).Error(0)
}

func TestRecordExpenseAttachesCurrentTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	driver := f.driver(t, "11122233344")
	trip := f.startTrip(t, truck, driver, 0)

	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID:     truck.ID,
		Category:    "Pedagio",
		Amount:      core.Cents(1250),
		Description: " toll ",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Pedagio, v.Category)
	assert.Equal(t, "toll", v.Description)
	require.NotNil(t, v.TripID)
	assert.Equal(t, trip.ID, *v.TripID)
	require.NotNil(t, v.DriverID)
	assert.Equal(t, driver.ID, *v.DriverID)
	assert.Empty(t, v.Images)
	assert.Contains(t, f.events.Types(), amqp.EventExpenseRecorded)
}

func TestRecordExpenseWithoutTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	driver := f.driver(t, "11122233344")
	_, err := f.fleet.AssignDriver(ctx, org, truck.ID, &driver.ID)
	require.NoError(t, err)

	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "manutencao", Amount: core.Cents(90000),
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, v.TripID)
	require.NotNil(t, v.DriverID)
	assert.Equal(t, driver.ID, *v.DriverID)
}

func TestRecordExpenseRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	otherTruck := f.truck(t, "XYZ9K88")
	driver := f.driver(t, "11122233344")
	otherDriver := f.driver(t, "99988877766")
	trip := f.startTrip(t, truck, driver, 0)
	otherTrip := f.startTrip(t, otherTruck, otherDriver, 0)

	finishedTruck := f.truck(t, "FIN0A00")
	finished := f.startTrip(t, finishedTruck, f.driver(t, "12312312312"), 0)
	_, err := f.trips.FinalizeTrip(ctx, org, finished.ID, 5)
	require.NoError(t, err)
	foreignDriver, err := f.fleet.CreateDriver(ctx, "org-2", CreateDriverInput{Name: "Elsewhere", NationalID: "55566677788"})
	require.NoError(t, err)
	missingDriver := "missing"

	tests := []struct {
		name    string
		in      RecordExpenseInput
		wantErr error
	}{
		{"unknown category", RecordExpenseInput{TruckID: truck.ID, Category: "lunch", Amount: core.Cents(1)}, core.ErrValidation},
		{"negative amount", RecordExpenseInput{TruckID: truck.ID, Category: "outros", Amount: core.Cents(-1)}, core.ErrValidation},
		{"long description", RecordExpenseInput{TruckID: truck.ID, Category: "outros", Amount: core.Cents(1), Description: strings.Repeat("x", 201)}, core.ErrValidation},
		{"unknown truck", RecordExpenseInput{TruckID: "missing", Category: "outros", Amount: core.Cents(1)}, core.ErrNotFound},
		{"trip of another truck", RecordExpenseInput{TruckID: truck.ID, Category: "outros", Amount: core.Cents(1), TripID: &otherTrip.ID}, core.ErrValidation},
		{"finished trip", RecordExpenseInput{TruckID: finishedTruck.ID, Category: "outros", Amount: core.Cents(1), TripID: &finished.ID}, core.ErrState},
		{"driver of another organization", RecordExpenseInput{TruckID: truck.ID, Category: "outros", Amount: core.Cents(1), DriverID: &foreignDriver.ID}, core.ErrNotFound},
		{"unknown driver", RecordExpenseInput{TruckID: truck.ID, Category: "outros", Amount: core.Cents(1), DriverID: &missingDriver}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.expenses.RecordExpense(ctx, org, tt.in, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	views, err := f.expenses.ListTruckExpenses(ctx, org, truck.ID, core.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, views, "rejected expenses must not be stored")

	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "outros", Amount: core.Cents(0), TripID: &trip.ID,
	}, nil)
	require.NoError(t, err, "zero amounts are allowed")
	assert.Equal(t, trip.ID, *v.TripID)

	v, err = f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "outros", Amount: core.Cents(1), DriverID: &otherDriver.ID,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, otherDriver.ID, *v.DriverID, "an explicit driver of the organization is kept")
}

func TestRecordExpenseStoresImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")

	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "combustivel", Amount: core.Cents(45000),
	}, []ImageUpload{
		{FileName: "pump.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg")},
		{FileName: "receipt 2.png", ContentType: "image/png", Body: strings.NewReader("png")},
	})
	require.NoError(t, err)
	require.Len(t, v.Images, 2)
	assert.Equal(t, "http://files.test/"+org+"/"+v.ID+"/1-pump.jpg", v.Images[0].URL)
	assert.Equal(t, "http://files.test/"+org+"/"+v.ID+"/2-receipt_2.png", v.Images[1].URL)

	views, err := f.expenses.ListTruckExpenses(ctx, org, truck.ID, core.DateRange{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Len(t, views[0].Images, 2)
}

func TestRecordExpensePartialUploadFailure(t *testing.T) {
	ctx := context.Background()
	blobs := &mockBlobs{}
	f := newFixtureWith(t, memory.New(), blobs)
	truck := f.truck(t, "ABC1D23")

	okHandle := blob.Handle{Path: "ok", ContentType: "image/jpeg", Size: 2}
	blobs.On("Upload", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.HasSuffix(p, "/1-ok.jpg") }), "image/jpeg", mock.Anything).
		Return(okHandle, nil).Once()
	blobs.On("Upload", mock.Anything, mock.MatchedBy(func(p string) bool { return strings.HasSuffix(p, "/2-bad.jpg") }), "image/jpeg", mock.Anything).
		Return(blob.Handle{}, errors.New("bucket unavailable")).Once()
	blobs.On("PublicURL", okHandle).Return("https://cdn.test/ok").Once()

	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "pedagio", Amount: core.Cents(800),
	}, []ImageUpload{
		{FileName: "ok.jpg", ContentType: "image/jpeg", Body: strings.NewReader("ok")},
		{FileName: "bad.jpg", ContentType: "image/jpeg", Body: strings.NewReader("no")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDependency)
	assert.True(t, IsPartialUpload(err))
	assert.NotEmpty(t, v.ID, "the expense is kept when uploads fail")
	require.Len(t, v.Images, 1)
	assert.Equal(t, "https://cdn.test/ok", v.Images[0].URL)

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	require.Len(t, ue.Failures, 1)
	assert.Equal(t, "bad.jpg", ue.Failures[0].FileName)

	stored, err := f.repos.Expenses.Get(ctx, org, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), stored.Amount.Cents)
	blobs.AssertExpectations(t)
}

func TestUpdateExpenseSyncsTripCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	driver := f.driver(t, "11122233344")
	trip := f.startTrip(t, truck, driver, 0)

	commission := f.expense(t, truck.ID, "comissao", 10000)
	toll := f.expense(t, truck.ID, "pedagio", 500)

	stored, err := f.trips.GetTrip(ctx, org, trip.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Comissao, "recording a commission expense does not set the trip commission")

	updated, err := f.expenses.UpdateExpense(ctx, org, commission.ID, UpdateExpenseInput{Amount: money(12000)})
	require.NoError(t, err)
	assert.Equal(t, int64(12000), updated.Amount.Cents)

	stored, err = f.trips.GetTrip(ctx, org, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Comissao)
	assert.Equal(t, int64(12000), stored.Comissao.Cents)

	desc := "  new toll "
	updated, err = f.expenses.UpdateExpense(ctx, org, toll.ID, UpdateExpenseInput{Amount: money(700), Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "new toll", updated.Description)

	stored, err = f.trips.GetTrip(ctx, org, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), stored.Comissao.Cents, "other categories leave the commission alone")

	_, err = f.expenses.UpdateExpense(ctx, org, toll.ID, UpdateExpenseInput{Amount: money(-3)})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.expenses.UpdateExpense(ctx, "org-2", toll.ID, UpdateExpenseInput{Amount: money(3)})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateExpenseCorrectsTripRoute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	driver := f.driver(t, "11122233344")
	trip := f.startTrip(t, truck, driver, 0)
	toll := f.expense(t, truck.ID, "pedagio", 500)

	origin, destination := " Santos ", "Sorocaba"
	_, err := f.expenses.UpdateExpense(ctx, org, toll.ID, UpdateExpenseInput{Origin: &origin, Destination: &destination})
	require.NoError(t, err)

	stored, err := f.trips.GetTrip(ctx, org, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Santos", stored.Origin)
	assert.Equal(t, "Sorocaba", stored.Destination)

	blank := "  "
	_, err = f.expenses.UpdateExpense(ctx, org, toll.ID, UpdateExpenseInput{Amount: money(900), Destination: &blank})
	assert.ErrorIs(t, err, core.ErrValidation)
	unchanged, err := f.repos.Expenses.Get(ctx, org, toll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), unchanged.Amount.Cents, "a rejected route leaves the expense alone")

	loose := f.expense(t, f.truck(t, "IDL3E00").ID, "outros", 100)
	_, err = f.expenses.UpdateExpense(ctx, org, loose.ID, UpdateExpenseInput{Origin: &origin})
	assert.ErrorIs(t, err, core.ErrValidation)
}

// tripWriteFailingStore fails every trip update once armed.
type tripWriteFailingStore struct {
	storage.RecordStore
	armed atomic.Bool
}

func (s *tripWriteFailingStore) Update(ctx context.Context, table string, patch storage.Row, where storage.Filter) (int64, error) {
	if table == storage.Trips && s.armed.Load() {
		return 0, errors.New("connection reset")
	}
	return s.RecordStore.Update(ctx, table, patch, where)
}

func TestUpdateExpenseRestoredWhenTripWriteFails(t *testing.T) {
	ctx := context.Background()
	rs := &tripWriteFailingStore{RecordStore: memory.New()}
	f := newFixtureWith(t, rs, nil)
	truck := f.truck(t, "ABC1D23")
	driver := f.driver(t, "11122233344")
	trip := f.startTrip(t, truck, driver, 0)
	commission := f.expense(t, truck.ID, "comissao", 10000)

	rs.armed.Store(true)
	desc := "adjusted"
	_, err := f.expenses.UpdateExpense(ctx, org, commission.ID, UpdateExpenseInput{Amount: money(12000), Description: &desc})
	assert.ErrorIs(t, err, core.ErrDependency)

	stored, err := f.repos.Expenses.Get(ctx, org, commission.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stored.Amount.Cents)
	assert.Empty(t, stored.Description)

	tr, err := f.trips.GetTrip(ctx, org, trip.ID)
	require.NoError(t, err)
	assert.Nil(t, tr.Comissao)
}

func TestDeleteExpense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	truck := f.truck(t, "ABC1D23")
	v, err := f.expenses.RecordExpense(ctx, org, RecordExpenseInput{
		TruckID: truck.ID, Category: "outros", Amount: core.Cents(100),
	}, []ImageUpload{{FileName: "a.jpg", ContentType: "image/jpeg", Body: strings.NewReader("a")}})
	require.NoError(t, err)

	require.NoError(t, f.expenses.DeleteExpense(ctx, org, v.ID))

	images, err := f.repos.Images.ListByExpenses(ctx, org, []string{v.ID})
	require.NoError(t, err)
	assert.Empty(t, images[v.ID])
	assert.ErrorIs(t, f.expenses.DeleteExpense(ctx, org, v.ID), core.ErrNotFound)
}

func TestIncomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in, err := f.incomes.RecordIncome(ctx, org, RecordIncomeInput{Amount: core.Cents(250000), Description: " freight "})
	require.NoError(t, err)
	assert.Equal(t, "freight", in.Description)

	_, err = f.incomes.RecordIncome(ctx, org, RecordIncomeInput{Amount: core.Cents(-1)})
	assert.ErrorIs(t, err, core.ErrValidation)

	list, err := f.incomes.ListIncomes(ctx, org, core.NewDateRange(f.clock.Now(), f.clock.Now()))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, in.ID, list[0].ID)

	list, err = f.incomes.ListIncomes(ctx, "org-2", core.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.incomes.ListIncomes(ctx, org, core.DateRange{From: f.clock.Now(), To: f.clock.Now().AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, core.ErrValidation)
}

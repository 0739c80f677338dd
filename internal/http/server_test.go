package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcost/internal/blob/local"
	"fleetcost/internal/repository"
	"fleetcost/internal/services"
	"fleetcost/internal/storage/memory"
)

const testOrg = "org-1"

type apiClient struct {
	t   *testing.T
	srv *Server
}

func newTestServer(t *testing.T, opts Options) *apiClient {
	t.Helper()
	dir := t.TempDir()
	blobs, err := local.New(dir, "http://files.test/files")
	require.NoError(t, err)

	store := memory.New()
	repos := repository.New(store, nil)
	deps := services.Deps{}
	trips := services.NewTripManager(repos, deps)
	svc := Services{
		Fleet:    services.NewFleetService(repos, trips, deps),
		Trips:    trips,
		Expenses: services.NewExpenseService(repos, blobs, trips, 2, deps),
		Incomes:  services.NewIncomeService(repos, deps),
		Reports:  services.NewReportService(repos, trips, nil, deps),
	}
	if opts.Ready == nil {
		opts.Ready = store.Ping
	}
	opts.FilesDir = dir
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &apiClient{t: t, srv: srv}
}

func (c *apiClient) do(method, path string, body any, org string) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if org != "" {
		req.Header.Set(HeaderOrganization, org)
	}
	rr := httptest.NewRecorder()
	c.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (c *apiClient) call(method, path string, body any) *httptest.ResponseRecorder {
	return c.do(method, path, body, testOrg)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (c *apiClient) createTruck(plate string) truckResponse {
	c.t.Helper()
	rr := c.call(http.MethodPost, "/trucks", map[string]any{"name": "Truck " + plate, "plate": plate})
	require.Equal(c.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[truckResponse](c.t, rr)
}

func (c *apiClient) createDriver(nationalID string) driverResponse {
	c.t.Helper()
	rr := c.call(http.MethodPost, "/drivers", map[string]any{"name": "Driver " + nationalID, "national_id": nationalID})
	require.Equal(c.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[driverResponse](c.t, rr)
}

func (c *apiClient) startTrip(truckID, driverID string) tripResponse {
	c.t.Helper()
	rr := c.call(http.MethodPost, "/trips", map[string]any{
		"truck_id":       truckID,
		"driver_id":      driverID,
		"origin":         "Santos",
		"destination":    "Campinas",
		"start_odometer": 1000,
	})
	require.Equal(c.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[tripResponse](c.t, rr)
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

func TestHealthAndReady(t *testing.T) {
	api := newTestServer(t, Options{})

	rr := api.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = api.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	api := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("down") }})

	rr := api.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOrganizationHeaderRequired(t *testing.T) {
	api := newTestServer(t, Options{})

	tests := []struct {
		name string
		org  string
	}{
		{"missing", ""},
		{"separator", "org|x"},
		{"too long", strings.Repeat("a", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(http.MethodGet, "/trucks", nil, tt.org)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "bad_request", decode[errorEnvelope](t, rr).Error.Type)
		})
	}
}

func TestTruckEndpoints(t *testing.T) {
	api := newTestServer(t, Options{})
	truck := api.createTruck("abc-1d23")
	assert.Equal(t, "ABC1D23", truck.Plate)
	assert.Equal(t, "active", string(truck.Status))

	t.Run("duplicate plate conflicts", func(t *testing.T) {
		rr := api.call(http.MethodPost, "/trucks", map[string]any{"plate": "ABC 1D23"})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "conflict_error", decode[errorEnvelope](t, rr).Error.Type)
	})

	t.Run("other organization does not see it", func(t *testing.T) {
		rr := api.do(http.MethodGet, "/trucks/"+truck.ID, nil, "org-2")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rr := api.call(http.MethodPost, "/trucks", map[string]any{"plate": "XYZ9999", "colour": "red"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("list filters by status", func(t *testing.T) {
		rr := api.call(http.MethodPatch, "/trucks/"+truck.ID+"/status", map[string]any{"status": "maintenance"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = api.call(http.MethodGet, "/trucks?status=maintenance", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[listResponse[truckResponse]](t, rr)
		require.Len(t, list.Items, 1)
		assert.Equal(t, truck.ID, list.Items[0].ID)

		rr = api.call(http.MethodGet, "/trucks?status=parked", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("assign and unassign driver", func(t *testing.T) {
		driver := api.createDriver("123.456.789-00")
		rr := api.call(http.MethodPut, "/trucks/"+truck.ID+"/driver", map[string]any{"driver_id": driver.ID})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.NotNil(t, decode[truckResponse](t, rr).CurrentDriverID)

		rr = api.call(http.MethodPut, "/trucks/"+truck.ID+"/driver", map[string]any{"driver_id": nil})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Nil(t, decode[truckResponse](t, rr).CurrentDriverID)
	})

	t.Run("delete", func(t *testing.T) {
		other := api.createTruck("DEL0001")
		rr := api.call(http.MethodDelete, "/trucks/"+other.ID, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		rr = api.call(http.MethodGet, "/trucks/"+other.ID, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestTripLifecycle(t *testing.T) {
	api := newTestServer(t, Options{})
	truck := api.createTruck("TRP0001")
	driver := api.createDriver("11111111111")

	rr := api.call(http.MethodGet, "/trucks/"+truck.ID+"/current-trip", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"trip":null}`, rr.Body.String())

	trip := api.startTrip(truck.ID, driver.ID)
	assert.Equal(t, "started", string(trip.Status))
	assert.False(t, trip.FinancialsComplete)

	rr = api.call(http.MethodPost, "/trips", map[string]any{
		"truck_id": truck.ID, "driver_id": driver.ID, "origin": "A", "destination": "B",
	})
	assert.Equal(t, http.StatusConflict, rr.Code, "second started trip")

	rr = api.call(http.MethodGet, "/trucks/"+truck.ID+"/current-trip", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	current := decode[map[string]*tripResponse](t, rr)["trip"]
	require.NotNil(t, current)
	assert.Equal(t, trip.ID, current.ID)

	rr = api.call(http.MethodPost, "/trips/"+trip.ID+"/finalize", map[string]any{"end_odometer": 900})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "end_odometer", decode[errorEnvelope](t, rr).Error.Field)

	rr = api.call(http.MethodPost, "/trips/"+trip.ID+"/finalize", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.call(http.MethodPost, "/trips/"+trip.ID+"/finalize", map[string]any{"end_odometer": 1400})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	finished := decode[tripResponse](t, rr)
	assert.Equal(t, "finished", string(finished.Status))
	require.NotNil(t, finished.EndOdometer)
	assert.EqualValues(t, 1400, *finished.EndOdometer)

	rr = api.call(http.MethodPost, "/trips/"+trip.ID+"/finalize", map[string]any{"end_odometer": 1500})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "state_error", decode[errorEnvelope](t, rr).Error.Type)

	rr = api.call(http.MethodPatch, "/trips/"+trip.ID+"/financials", map[string]any{"frete": "5000.00", "comissao": 300})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	withFinancials := decode[tripResponse](t, rr)
	assert.True(t, withFinancials.FinancialsComplete)
	assert.Equal(t, int64(500000), withFinancials.Frete.Cents)
	assert.Equal(t, int64(30000), withFinancials.Comissao.Cents)

	rr = api.call(http.MethodPatch, "/trips/"+trip.ID+"/financials", map[string]any{"frete": "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = api.call(http.MethodPatch, "/trips/"+trip.ID, map[string]any{"destination": "Ribeirao Preto"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rerouted := decode[tripResponse](t, rr)
	assert.Equal(t, "Ribeirao Preto", rerouted.Destination)
	assert.Equal(t, "finished", string(rerouted.Status))

	rr = api.call(http.MethodPatch, "/trips/"+trip.ID, map[string]any{"origin": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "origin", decode[errorEnvelope](t, rr).Error.Field)

	rr = api.call(http.MethodGet, "/trucks/"+truck.ID+"/trips", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[listResponse[tripResponse]](t, rr).Items, 1)
}

func TestRecordExpenseJSON(t *testing.T) {
	api := newTestServer(t, Options{})
	truck := api.createTruck("EXP0001")
	driver := api.createDriver("22222222222")
	trip := api.startTrip(truck.ID, driver.ID)

	rr := api.call(http.MethodPost, "/expenses", map[string]any{
		"truck_id": truck.ID, "category": "combustivel", "amount": "1.234,56", "description": "diesel",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[recordExpenseResponse](t, rr)
	assert.Equal(t, int64(123456), created.Expense.Amount.Cents)
	require.NotNil(t, created.Expense.TripID)
	assert.Equal(t, trip.ID, *created.Expense.TripID)
	require.NotNil(t, created.Expense.DriverID)
	assert.Equal(t, driver.ID, *created.Expense.DriverID)
	assert.Empty(t, created.UploadErrors)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		field  string
	}{
		{"unknown category", map[string]any{"truck_id": truck.ID, "category": "lanche", "amount": 10}, http.StatusUnprocessableEntity, "category"},
		{"negative amount", map[string]any{"truck_id": truck.ID, "category": "outros", "amount": "-5"}, http.StatusUnprocessableEntity, "amount"},
		{"missing amount", map[string]any{"truck_id": truck.ID, "category": "outros"}, http.StatusUnprocessableEntity, "amount"},
		{"unknown truck", map[string]any{"truck_id": "nope", "category": "outros", "amount": 1}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.call(http.MethodPost, "/expenses", tt.body)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.field, decode[errorEnvelope](t, rr).Error.Field)
		})
	}

	rr = api.call(http.MethodPatch, "/expenses/"+created.Expense.ID, map[string]any{"amount": "100", "description": "  diesel s10  "})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[expenseResponse](t, rr)
	assert.Equal(t, int64(10000), updated.Amount.Cents)
	assert.Equal(t, "diesel s10", updated.Description)

	rr = api.call(http.MethodDelete, "/expenses/"+created.Expense.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = api.call(http.MethodDelete, "/expenses/"+created.Expense.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRecordExpenseMultipart(t *testing.T) {
	api := newTestServer(t, Options{})
	truck := api.createTruck("IMG0001")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("truck_id", truck.ID))
	require.NoError(t, mw.WriteField("category", "pedagio"))
	require.NoError(t, mw.WriteField("amount", "12,50"))
	part, err := mw.CreateFormFile("images", "ticket.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/expenses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderOrganization, testOrg)
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[recordExpenseResponse](t, rr)
	assert.Equal(t, int64(1250), created.Expense.Amount.Cents)
	require.Len(t, created.Expense.Images, 1)
	url := created.Expense.Images[0].URL
	assert.True(t, strings.HasSuffix(url, "/1-ticket.jpg"), url)

	rr = api.do(http.MethodGet, strings.TrimPrefix(url, "http://files.test"), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "jpeg-bytes", rr.Body.String())

	rr = api.do(http.MethodGet, "/files/"+testOrg+"/", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "no directory listing")

	rr = api.call(http.MethodGet, "/trucks/"+truck.ID+"/expenses", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[listResponse[expenseResponse]](t, rr)
	require.Len(t, list.Items, 1)
	assert.Len(t, list.Items[0].Images, 1)
}

func TestReportsAndCacheInvalidation(t *testing.T) {
	api := newTestServer(t, Options{})
	a := api.createTruck("AAA0001")
	b := api.createTruck("BBB0001")

	for _, e := range []map[string]any{
		{"truck_id": a.ID, "category": "combustivel", "amount": 1000},
		{"truck_id": a.ID, "category": "pedagio", "amount": 200},
		{"truck_id": b.ID, "category": "manutencao", "amount": 3000},
	} {
		rr := api.call(http.MethodPost, "/expenses", e)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr := api.call(http.MethodPost, "/incomes", map[string]any{"amount": 10000, "description": "contrato"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	type overview struct {
		TotalCost   string `json:"total_cost"`
		TotalIncome string `json:"total_income"`
		Profit      string `json:"profit"`
	}
	rr = api.call(http.MethodGet, "/reports/overview", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	got := decode[overview](t, rr)
	assert.Equal(t, overview{TotalCost: "4200.00", TotalIncome: "10000.00", Profit: "5800.00"}, got)

	rr = api.call(http.MethodGet, "/reports/overview", nil)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))

	rr = api.do(http.MethodGet, "/reports/overview", nil, "org-2")
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"), "cache is per organization")

	rr = api.call(http.MethodPost, "/expenses", map[string]any{"truck_id": a.ID, "category": "outros", "amount": 800})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = api.call(http.MethodGet, "/reports/overview", nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"), "write invalidates")
	assert.Equal(t, "5000.00", decode[overview](t, rr).TotalCost)

	t.Run("ranking", func(t *testing.T) {
		rr := api.call(http.MethodGet, "/reports/ranking?top=1", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var out struct {
			Items []rankingEntryResponse `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		require.Len(t, out.Items, 1)
		assert.Equal(t, b.ID, out.Items[0].TruckID)
		assert.Equal(t, "BBB0001", out.Items[0].Plate)

		rr = api.call(http.MethodGet, "/reports/ranking?top=0", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("compare trucks", func(t *testing.T) {
		rr := api.call(http.MethodGet, "/reports/compare?truck_a="+a.ID+"&truck_b="+b.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var cmp struct {
			TotalA string `json:"total_a"`
			TotalB string `json:"total_b"`
			Delta  string `json:"delta"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cmp))
		assert.Equal(t, "2000.00", cmp.TotalA)
		assert.Equal(t, "3000.00", cmp.TotalB)
		assert.Equal(t, "1000.00", cmp.Delta)

		rr = api.call(http.MethodGet, "/reports/compare?truck_a="+a.ID, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr = api.call(http.MethodGet, "/reports/compare", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("compare periods", func(t *testing.T) {
		rr := api.call(http.MethodGet, "/reports/compare?first_from=2000-01-01&first_to=2000-01-31&second_month=2000-02", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})

	t.Run("inverted range", func(t *testing.T) {
		rr := api.call(http.MethodGet, "/reports/overview?from=2024-02-01&to=2024-01-01", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("truck report", func(t *testing.T) {
		rr := api.call(http.MethodGet, "/trucks/"+a.ID+"/report", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		report := decode[truckReportResponse](t, rr)
		assert.Equal(t, int64(200000), report.Total.Cents)
		assert.Len(t, report.Timeline, 1)
		assert.Nil(t, report.CurrentTrip)
	})
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	api := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rr := api.call(http.MethodPost, "/incomes", map[string]any{"amount": 1})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr := api.call(http.MethodPost, "/incomes", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = api.do(http.MethodPost, "/incomes", map[string]any{"amount": 1}, "org-2")
	assert.Equal(t, http.StatusCreated, rr.Code, "limit is per organization")

	rr = api.call(http.MethodGet, "/incomes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[listResponse[incomeResponse]](t, rr).Items, 2)
}

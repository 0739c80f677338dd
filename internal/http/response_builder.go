package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fleetcost/internal/analytics"
	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/services"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrState), errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDependency):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs server side failures and renders err as JSON. Internal
// errors never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Type: log.ErrorType(err), Message: err.Error()}
	switch {
	case errors.Is(err, errBadRequest):
		detail.Type = "bad_request"
	case status == http.StatusInternalServerError:
		detail.Message = "internal server error"
	}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		detail.Field = ve.Field
	}
	var de *core.DependencyError
	if errors.As(err, &de) {
		detail.Retryable = de.Retryable()
		w.Header().Set("Retry-After", "5")
	}

	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorType(err),
			log.FieldPath, r.URL.Path)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

type rangeResponse struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

func newRange(r core.DateRange) rangeResponse {
	var out rangeResponse
	if !r.From.IsZero() {
		f := r.From
		out.From = &f
	}
	if !r.To.IsZero() {
		t := r.To
		out.To = &t
	}
	return out
}

type truckResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Plate           string           `json:"plate"`
	Status          core.TruckStatus `json:"status"`
	CurrentDriverID *string          `json:"current_driver_id"`
	CreatedAt       time.Time        `json:"created_at"`
}

func newTruck(t core.Truck) truckResponse {
	return truckResponse{
		ID:              t.ID,
		Name:            t.Name,
		Plate:           t.Plate,
		Status:          t.Status,
		CurrentDriverID: t.CurrentDriverID,
		CreatedAt:       t.CreatedAt,
	}
}

type driverResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NationalID string    `json:"national_id"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDriver(d core.Driver) driverResponse {
	return driverResponse{ID: d.ID, Name: d.Name, NationalID: d.NationalID, Phone: d.Phone, CreatedAt: d.CreatedAt}
}

type tripResponse struct {
	ID                 string          `json:"id"`
	TruckID            string          `json:"truck_id"`
	DriverID           string          `json:"driver_id"`
	Origin             string          `json:"origin"`
	Destination        string          `json:"destination"`
	Status             core.TripStatus `json:"status"`
	StartOdometer      int64           `json:"start_odometer"`
	StartedAt          time.Time       `json:"started_at"`
	EndOdometer        *int64          `json:"end_odometer"`
	EndedAt            *time.Time      `json:"ended_at"`
	Frete              *core.Money     `json:"frete"`
	Comissao           *core.Money     `json:"comissao"`
	FinancialsComplete bool            `json:"financials_complete"`
}

func newTrip(t core.Trip) tripResponse {
	return tripResponse{
		ID:                 t.ID,
		TruckID:            t.TruckID,
		DriverID:           t.DriverID,
		Origin:             t.Origin,
		Destination:        t.Destination,
		Status:             t.Status,
		StartOdometer:      t.StartOdometer,
		StartedAt:          t.StartedAt,
		EndOdometer:        t.EndOdometer,
		EndedAt:            t.EndedAt,
		Frete:              t.Frete,
		Comissao:           t.Comissao,
		FinancialsComplete: t.FinancialsComplete(),
	}
}

func newTripPtr(t *core.Trip) *tripResponse {
	if t == nil {
		return nil
	}
	out := newTrip(*t)
	return &out
}

type imageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type expenseResponse struct {
	ID          string          `json:"id"`
	Category    core.Category   `json:"category"`
	Amount      core.Money      `json:"amount"`
	Description string          `json:"description"`
	TruckID     string          `json:"truck_id"`
	DriverID    *string         `json:"driver_id"`
	TripID      *string         `json:"trip_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Images      []imageResponse `json:"images"`
}

func newExpense(e core.Expense, images []core.ExpenseImage) expenseResponse {
	out := expenseResponse{
		ID:          e.ID,
		Category:    e.Category,
		Amount:      e.Amount,
		Description: e.Description,
		TruckID:     e.TruckID,
		DriverID:    e.DriverID,
		TripID:      e.TripID,
		CreatedAt:   e.CreatedAt,
		Images:      make([]imageResponse, len(images)),
	}
	for i, img := range images {
		out.Images[i] = imageResponse{ID: img.ID, URL: img.URL}
	}
	return out
}

func newExpenseView(v services.ExpenseView) expenseResponse {
	return newExpense(v.Expense, v.Images)
}

type uploadFailureResponse struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

type recordExpenseResponse struct {
	Expense      expenseResponse         `json:"expense"`
	UploadErrors []uploadFailureResponse `json:"upload_errors,omitempty"`
}

type incomeResponse struct {
	ID          string     `json:"id"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newIncome(in core.Income) incomeResponse {
	return incomeResponse{ID: in.ID, Amount: in.Amount, Description: in.Description, CreatedAt: in.CreatedAt}
}

type tripReportResponse struct {
	analytics.CostTripSummary
	Profit analytics.ProfitResult `json:"profit"`
}

type timelineDayResponse struct {
	Date     string            `json:"date"`
	Total    core.Money        `json:"total"`
	Expenses []expenseResponse `json:"expenses"`
}

type truckReportResponse struct {
	Truck       truckResponse            `json:"truck"`
	Range       rangeResponse            `json:"range"`
	Categories  analytics.CategoryTotals `json:"categories"`
	Total       core.Money               `json:"total"`
	Timeline    []timelineDayResponse    `json:"timeline"`
	Trips       []tripReportResponse     `json:"trips"`
	CurrentTrip *tripResponse            `json:"current_trip"`
}

func newTruckReport(r services.TruckReport) truckReportResponse {
	out := truckReportResponse{
		Truck:       newTruck(r.Truck),
		Range:       newRange(r.Range),
		Categories:  r.Categories,
		Total:       r.Total,
		Timeline:    make([]timelineDayResponse, len(r.Timeline)),
		Trips:       make([]tripReportResponse, len(r.Trips)),
		CurrentTrip: newTripPtr(r.CurrentTrip),
	}
	for i, d := range r.Timeline {
		day := timelineDayResponse{
			Date:     d.Date.Format(dateLayout),
			Total:    d.Total,
			Expenses: make([]expenseResponse, len(d.Expenses)),
		}
		for j, v := range d.Expenses {
			day.Expenses[j] = newExpenseView(v)
		}
		out.Timeline[i] = day
	}
	for i, t := range r.Trips {
		out.Trips[i] = tripReportResponse{CostTripSummary: t.CostTripSummary, Profit: t.Profit}
	}
	return out
}

type overviewResponse struct {
	Range rangeResponse `json:"range"`
	analytics.OverviewResult
}

type rankingEntryResponse struct {
	TruckID    string                   `json:"truck_id"`
	Name       string                   `json:"name"`
	Plate      string                   `json:"plate"`
	Categories analytics.CategoryTotals `json:"categories"`
	Total      core.Money               `json:"total"`
}

func newRanking(ranked []services.RankedTruck) []rankingEntryResponse {
	out := make([]rankingEntryResponse, len(ranked))
	for i, r := range ranked {
		out[i] = rankingEntryResponse{
			TruckID:    r.TruckID,
			Name:       r.Name,
			Plate:      r.Plate,
			Categories: r.Categories,
			Total:      r.Total,
		}
	}
	return out
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func mapSlice[S, T any](in []S, f func(S) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

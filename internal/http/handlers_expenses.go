package http

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/services"
)

const (
	maxImagesPerExpense = 10
	multipartMemory     = 8 << 20
)

type recordExpenseRequest struct {
	TruckID     string      `json:"truck_id"`
	Category    string      `json:"category"`
	Amount      *core.Money `json:"amount"`
	Description string      `json:"description"`
	DriverID    *string     `json:"driver_id"`
	TripID      *string     `json:"trip_id"`
}

type updateExpenseRequest struct {
	Amount      *core.Money `json:"amount"`
	Description *string     `json:"description"`
	Origin      *string     `json:"origin"`
	Destination *string     `json:"destination"`
}

type recordIncomeRequest struct {
	Amount      *core.Money `json:"amount"`
	Description string      `json:"description"`
}

// handleRecordExpense accepts a JSON body, or multipart/form-data with the
// same fields plus receipt files under "images". When only some images
// fail to upload the expense is still created and the failures are listed.
func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request, org string) {
	var (
		req    recordExpenseRequest
		images []services.ImageUpload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var closeFiles func()
		var err error
		req, images, closeFiles, err = s.parseExpenseForm(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer closeFiles()
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Amount == nil {
		writeError(w, r, core.Invalid("record", core.EntityExpense, "", "amount", errMissingValue))
		return
	}
	view, err := s.svc.Expenses.RecordExpense(r.Context(), org, services.RecordExpenseInput{
		TruckID:     strings.TrimSpace(req.TruckID),
		Category:    req.Category,
		Amount:      *req.Amount,
		Description: sanitizeInput(req.Description),
		DriverID:    optionalString(req.DriverID),
		TripID:      optionalString(req.TripID),
	}, images)

	var uploadErr *services.UploadError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, recordExpenseResponse{Expense: newExpenseView(view)})
	case errors.As(err, &uploadErr):
		log.FromContext(r.Context()).WarnContext(r.Context(), "Expense recorded with missing images",
			log.FieldExpenseID, view.ID, log.FieldError, err)
		resp := recordExpenseResponse{Expense: newExpenseView(view)}
		for _, f := range uploadErr.Failures {
			resp.UploadErrors = append(resp.UploadErrors, uploadFailureResponse{FileName: f.FileName, Error: f.Err.Error()})
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeError(w, r, err)
	}
}

// parseExpenseForm reads the multipart variant of the expense request. The
// returned func closes every opened file.
func (s *Server) parseExpenseForm(w http.ResponseWriter, r *http.Request) (recordExpenseRequest, []services.ImageUpload, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return recordExpenseRequest{}, nil, noop, badRequest("upload exceeds %d bytes", s.maxUploadBytes)
		}
		return recordExpenseRequest{}, nil, noop, badRequest("invalid multipart form: %v", err)
	}

	req := recordExpenseRequest{
		TruckID:     r.FormValue("truck_id"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
	}
	if v := r.FormValue("driver_id"); v != "" {
		req.DriverID = &v
	}
	if v := r.FormValue("trip_id"); v != "" {
		req.TripID = &v
	}
	if v := strings.TrimSpace(r.FormValue("amount")); v != "" {
		amount, err := core.ParseMoney(v)
		if err != nil {
			return recordExpenseRequest{}, nil, noop, core.Invalid("record", core.EntityExpense, "", "amount", err)
		}
		req.Amount = &amount
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) > maxImagesPerExpense {
		return recordExpenseRequest{}, nil, noop, badRequest("at most %d images per expense", maxImagesPerExpense)
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}
	images := make([]services.ImageUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return recordExpenseRequest{}, nil, noop, badRequest("cannot read image %q: %v", fh.Filename, err)
		}
		opened = append(opened, f)
		images = append(images, services.ImageUpload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return req, images, closeAll, nil
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request, org string) {
	var req updateExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.svc.Expenses.UpdateExpense(r.Context(), org, r.PathValue("id"), services.UpdateExpenseInput{
		Amount:      req.Amount,
		Description: sanitizePtr(req.Description),
		Origin:      sanitizePtr(req.Origin),
		Destination: sanitizePtr(req.Destination),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExpense(e, nil))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request, org string) {
	if err := s.svc.Expenses.DeleteExpense(r.Context(), org, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTruckExpenses(w http.ResponseWriter, r *http.Request, org string) {
	rng, err := parseDateRange(r.URL.Query(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := s.svc.Expenses.ListTruckExpenses(r.Context(), org, r.PathValue("id"), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[expenseResponse]{Items: mapSlice(views, newExpenseView)})
}

func (s *Server) handleRecordIncome(w http.ResponseWriter, r *http.Request, org string) {
	var req recordIncomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Amount == nil {
		writeError(w, r, core.Invalid("record", core.EntityIncome, "", "amount", errMissingValue))
		return
	}
	in, err := s.svc.Incomes.RecordIncome(r.Context(), org, services.RecordIncomeInput{
		Amount:      *req.Amount,
		Description: sanitizeInput(req.Description),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newIncome(in))
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request, org string) {
	rng, err := parseDateRange(r.URL.Query(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	incomes, err := s.svc.Incomes.ListIncomes(r.Context(), org, rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[incomeResponse]{Items: mapSlice(incomes, newIncome)})
}

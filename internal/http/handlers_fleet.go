package http

import (
	"net/http"
	"strings"

	"fleetcost/internal/core"
	"fleetcost/internal/repository"
	"fleetcost/internal/services"
)

type createTruckRequest struct {
	Name   string           `json:"name"`
	Plate  string           `json:"plate"`
	Status core.TruckStatus `json:"status"`
}

type truckStatusRequest struct {
	Status core.TruckStatus `json:"status"`
}

// assignDriverRequest assigns a driver; a null driver_id unassigns.
type assignDriverRequest struct {
	DriverID *string `json:"driver_id"`
}

type createDriverRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
}

func (s *Server) handleCreateTruck(w http.ResponseWriter, r *http.Request, org string) {
	var req createTruckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	truck, err := s.svc.Fleet.CreateTruck(r.Context(), org, services.CreateTruckInput{
		Name:   sanitizeInput(req.Name),
		Plate:  req.Plate,
		Status: req.Status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTruck(truck))
}

func (s *Server) handleListTrucks(w http.ResponseWriter, r *http.Request, org string) {
	q := r.URL.Query()
	page, err := parsePage(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := repository.TruckFilter{
		Status:          core.TruckStatus(strings.TrimSpace(q.Get("status"))),
		PlateContains:   strings.TrimSpace(q.Get("plate")),
		CurrentDriverID: strings.TrimSpace(q.Get("driver_id")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, core.Invalid("list", core.EntityTruck, "", "status", core.ErrInvalidTruckStatus))
		return
	}
	trucks, err := s.svc.Fleet.ListTrucks(r.Context(), org, filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[truckResponse]{
		Items:  mapSlice(trucks, newTruck),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (s *Server) handleGetTruck(w http.ResponseWriter, r *http.Request, org string) {
	truck, err := s.svc.Fleet.GetTruck(r.Context(), org, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTruck(truck))
}

func (s *Server) handleUpdateTruckStatus(w http.ResponseWriter, r *http.Request, org string) {
	var req truckStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	truck, err := s.svc.Fleet.UpdateTruckStatus(r.Context(), org, r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTruck(truck))
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request, org string) {
	var req assignDriverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	truck, err := s.svc.Fleet.AssignDriver(r.Context(), org, r.PathValue("id"), optionalString(req.DriverID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTruck(truck))
}

func (s *Server) handleDeleteTruck(w http.ResponseWriter, r *http.Request, org string) {
	if err := s.svc.Fleet.DeleteTruck(r.Context(), org, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDriver(w http.ResponseWriter, r *http.Request, org string) {
	var req createDriverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	driver, err := s.svc.Fleet.CreateDriver(r.Context(), org, services.CreateDriverInput{
		Name:       sanitizeInput(req.Name),
		NationalID: req.NationalID,
		Phone:      sanitizeInput(req.Phone),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDriver(driver))
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request, org string) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	drivers, err := s.svc.Fleet.ListDrivers(r.Context(), org, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[driverResponse]{
		Items:  mapSlice(drivers, newDriver),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (s *Server) handleDeleteDriver(w http.ResponseWriter, r *http.Request, org string) {
	if err := s.svc.Fleet.DeleteDriver(r.Context(), org, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package http

import (
	"net/http"

	"fleetcost/internal/core"
	"fleetcost/internal/services"
)

type startTripRequest struct {
	TruckID       string `json:"truck_id"`
	DriverID      string `json:"driver_id"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	StartOdometer int64  `json:"start_odometer"`
}

type finalizeTripRequest struct {
	EndOdometer *int64 `json:"end_odometer"`
}

type financialsRequest struct {
	Frete    *core.Money `json:"frete"`
	Comissao *core.Money `json:"comissao"`
}

type routeRequest struct {
	Origin      *string `json:"origin"`
	Destination *string `json:"destination"`
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request, org string) {
	var req startTripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trip, err := s.svc.Trips.StartTrip(r.Context(), org, services.StartTripInput{
		TruckID:       req.TruckID,
		DriverID:      req.DriverID,
		Origin:        sanitizeInput(req.Origin),
		Destination:   sanitizeInput(req.Destination),
		StartOdometer: req.StartOdometer,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTrip(trip))
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request, org string) {
	trip, err := s.svc.Trips.GetTrip(r.Context(), org, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrip(trip))
}

func (s *Server) handleFinalizeTrip(w http.ResponseWriter, r *http.Request, org string) {
	var req finalizeTripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.EndOdometer == nil {
		writeError(w, r, core.Invalid("finalize", core.EntityTrip, r.PathValue("id"), "end_odometer", errMissingValue))
		return
	}
	trip, err := s.svc.Trips.FinalizeTrip(r.Context(), org, r.PathValue("id"), *req.EndOdometer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrip(trip))
}

func (s *Server) handleUpdateFinancials(w http.ResponseWriter, r *http.Request, org string) {
	var req financialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trip, err := s.svc.Trips.UpdateFinancials(r.Context(), org, r.PathValue("id"), services.FinancialsPatch{
		Frete:    req.Frete,
		Comissao: req.Comissao,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrip(trip))
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request, org string) {
	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	trip, err := s.svc.Trips.UpdateRoute(r.Context(), org, r.PathValue("id"), services.RoutePatch{
		Origin:      sanitizePtr(req.Origin),
		Destination: sanitizePtr(req.Destination),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrip(trip))
}

func (s *Server) handleCurrentTrip(w http.ResponseWriter, r *http.Request, org string) {
	trip, err := s.svc.Trips.CurrentTrip(r.Context(), org, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*tripResponse{"trip": newTripPtr(trip)})
}

func (s *Server) handleListTruckTrips(w http.ResponseWriter, r *http.Request, org string) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	trips, err := s.svc.Trips.ListTruckTrips(r.Context(), org, r.PathValue("id"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[tripResponse]{
		Items:  mapSlice(trips, newTrip),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

package http

import (
	"net/http"
	"strconv"
	"strings"

	"fleetcost/internal/analytics"
	"fleetcost/internal/cache"
	"fleetcost/internal/core"
)

const (
	defaultRankingSize = 10
	maxRankingSize     = 100
)

// rangeKey renders rng for cache keys; open bounds become "*".
func rangeKey(rng core.DateRange) string {
	from, to := "*", "*"
	if !rng.From.IsZero() {
		from = rng.From.Format(dateLayout)
	}
	if !rng.To.IsZero() {
		to = rng.To.Format(dateLayout)
	}
	return from + ".." + to
}

func (s *Server) handleTruckReport(w http.ResponseWriter, r *http.Request, org string) {
	rng, err := parseDateRange(r.URL.Query(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.svc.Reports.TruckReport(r.Context(), org, r.PathValue("id"), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTruckReport(report))
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, org string) {
	rng, err := parseDateRange(r.URL.Query(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := cache.Key(org, "overview", rangeKey(rng))
	overview, ok := s.overviewCache.Get(key)
	if !ok {
		gen := s.caches.Generation(org)
		overview, err = s.svc.Reports.FleetOverview(r.Context(), org, rng)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.caches.StoreIfCurrent(org, gen, func() { s.overviewCache.Set(key, overview) })
	}
	w.Header().Set("X-Cache", cacheStatus(ok))
	writeJSON(w, http.StatusOK, overviewResponse{Range: newRange(rng), OverviewResult: overview})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request, org string) {
	q := r.URL.Query()
	top, err := parseIntParam(q, "top", defaultRankingSize, maxRankingSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rng, err := parseDateRange(q, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := cache.Key(org, "ranking", strconv.Itoa(top), rangeKey(rng))
	ranked, ok := s.rankingCache.Get(key)
	if !ok {
		gen := s.caches.Generation(org)
		ranked, err = s.svc.Reports.FleetRanking(r.Context(), org, top, rng)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.caches.StoreIfCurrent(org, gen, func() { s.rankingCache.Set(key, ranked) })
	}
	w.Header().Set("X-Cache", cacheStatus(ok))
	writeJSON(w, http.StatusOK, map[string]any{
		"range": newRange(rng),
		"items": newRanking(ranked),
	})
}

// handleCompare compares two trucks over one range (truck_a, truck_b) or one
// truck, or the whole fleet, over two ranges (first_*, second_*).
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request, org string) {
	q := r.URL.Query()
	truckA := strings.TrimSpace(q.Get("truck_a"))
	truckB := strings.TrimSpace(q.Get("truck_b"))

	var (
		cmp analytics.Comparison
		err error
	)
	switch {
	case truckA != "" || truckB != "":
		if truckA == "" || truckB == "" {
			writeError(w, r, badRequest("truck_a and truck_b must both be set"))
			return
		}
		rng, perr := parseDateRange(q, "")
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		cmp, err = s.svc.Reports.CompareTrucks(r.Context(), org, truckA, truckB, rng)
	default:
		first, perr := parseDateRange(q, "first_")
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		second, perr := parseDateRange(q, "second_")
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		if first.IsZero() || second.IsZero() {
			writeError(w, r, badRequest("compare needs truck_a and truck_b, or first_ and second_ ranges"))
			return
		}
		cmp, err = s.svc.Reports.ComparePeriods(r.Context(), org, strings.TrimSpace(q.Get("truck_id")), first, second)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

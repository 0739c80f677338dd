// Package http exposes the fleet services as a JSON API.
//
// This file holds the request side: tenant scope, body decoding, and the
// query parameters shared by list and report endpoints.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleetcost/internal/core"
	"fleetcost/internal/repository"
)

// HeaderOrganization carries the tenant of every API request.
const HeaderOrganization = "X-Organization-ID"

const (
	maxJSONBody     = 1 << 20
	maxOrganization = 64
	defaultPageSize = 100
	maxPageSize     = 500
	dateLayout      = "2006-01-02"
	monthLayout     = "2006-01"
)

var (
	// errBadRequest marks malformed requests that never reached a service.
	errBadRequest   = errors.New("bad request")
	errMissingValue = errors.New("value is required")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// parseOrganization reads and checks the tenant header. The value becomes
// part of cache keys, so the key separator is rejected.
func parseOrganization(r *http.Request) (string, error) {
	org := strings.TrimSpace(r.Header.Get(HeaderOrganization))
	switch {
	case org == "":
		return "", badRequest("missing %s header", HeaderOrganization)
	case len(org) > maxOrganization:
		return "", badRequest("%s header is too long", HeaderOrganization)
	case strings.ContainsAny(org, "|/\\"):
		return "", badRequest("%s header contains invalid characters", HeaderOrganization)
	}
	return org, nil
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected. Amount errors surface as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrNegativeAmount) {
			return core.Invalid("decode", "", "", "amount", err)
		}
		if errors.Is(err, io.EOF) {
			return badRequest("empty request body")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}

// parseDateRange reads from/to (YYYY-MM-DD) or month (YYYY-MM) from q,
// with the given parameter prefix. Missing bounds stay open.
func parseDateRange(q url.Values, prefix string) (core.DateRange, error) {
	if m := strings.TrimSpace(q.Get(prefix + "month")); m != "" {
		start, err := time.Parse(monthLayout, m)
		if err != nil {
			return core.DateRange{}, badRequest("invalid %smonth %q: want YYYY-MM", prefix, m)
		}
		return core.NewDateRange(start, start.AddDate(0, 1, -1)), nil
	}

	var rng core.DateRange
	if v := strings.TrimSpace(q.Get(prefix + "from")); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return core.DateRange{}, badRequest("invalid %sfrom %q: want YYYY-MM-DD", prefix, v)
		}
		rng.From = core.NewDateRange(d, d).From
	}
	if v := strings.TrimSpace(q.Get(prefix + "to")); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return core.DateRange{}, badRequest("invalid %sto %q: want YYYY-MM-DD", prefix, v)
		}
		rng.To = core.NewDateRange(d, d).To
	}
	if err := rng.Validate(); err != nil {
		return core.DateRange{}, err
	}
	return rng, nil
}

// parsePage reads limit and offset, defaulting to the first page.
func parsePage(q url.Values) (repository.Page, error) {
	page := repository.Page{Limit: defaultPageSize}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return page, badRequest("invalid limit %q", v)
		}
		page.Limit = min(n, maxPageSize)
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, badRequest("invalid offset %q", v)
		}
		page.Offset = n
	}
	return page, nil
}

// parseIntParam reads a positive integer, returning def when absent.
func parseIntParam(q url.Values, name string, def, limit int) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, badRequest("invalid %s %q", name, v)
	}
	return min(n, limit), nil
}

// sanitizeInput removes control characters except tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// sanitizePtr cleans a provided value and keeps it even when blank, so the
// service can reject it.
func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}

func optionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

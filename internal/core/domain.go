package core

import (
	"errors"
	"strings"
	"time"
)

const (
	TruckActive      TruckStatus = "active"
	TruckMaintenance TruckStatus = "maintenance"
	TruckInactive    TruckStatus = "inactive"

	TripStarted  TripStatus = "started"
	TripFinished TripStatus = "finished"
)

type (
	TruckStatus string
	TripStatus  string

	Truck struct {
		ID              string
		OrganizationID  string
		Name            string
		Plate           string
		CurrentDriverID *string
		Status          TruckStatus
		CreatedAt       time.Time
	}

	Driver struct {
		ID             string
		OrganizationID string
		Name           string
		NationalID     string
		Phone          string
		CreatedAt      time.Time
	}

	// Trip is a single haul for a truck and driver between two places.
	// End fields stay nil until the trip is finished. Frete and Comissao are
	// nil until a manager records them.
	Trip struct {
		ID             string
		OrganizationID string
		TruckID        string
		DriverID       string
		Origin         string
		Destination    string
		Status         TripStatus
		StartOdometer  int64
		StartedAt      time.Time
		EndOdometer    *int64
		EndedAt        *time.Time
		Frete          *Money
		Comissao       *Money
	}

	Expense struct {
		ID             string
		OrganizationID string
		Category       Category
		Amount         Money
		Description    string
		TruckID        string
		DriverID       *string
		TripID         *string
		CreatedAt      time.Time
	}

	Income struct {
		ID             string
		OrganizationID string
		Amount         Money
		Description    string
		CreatedAt      time.Time
	}

	ExpenseImage struct {
		ID             string
		OrganizationID string
		ExpenseID      string
		URL            string
		CreatedAt      time.Time
	}

	// DateRange is inclusive on both bounds.
	DateRange struct {
		From time.Time
		To   time.Time
	}
)

var (
	ErrEmptyOrganization   = errors.New("organization is required")
	ErrEmptyName           = errors.New("name is required")
	ErrEmptyPlate          = errors.New("plate is required")
	ErrEmptyNationalID     = errors.New("national id is required")
	ErrEmptyOrigin         = errors.New("origin is required")
	ErrEmptyDestination    = errors.New("destination is required")
	ErrEmptyTruck          = errors.New("truck is required")
	ErrEmptyDriver         = errors.New("driver is required")
	ErrNegativeOdometer    = errors.New("odometer must not be negative")
	ErrOdometerBelowStart  = errors.New("end odometer is below start odometer")
	ErrInvalidTruckStatus  = errors.New("invalid truck status")
	ErrInvalidTripStatus   = errors.New("invalid trip status")
	ErrDescriptionTooLong  = errors.New("description too long (max 200 characters)")
	ErrInvertedDateRange   = errors.New("range start is after range end")
	ErrEmptyExpenseImage   = errors.New("image url is required")
	ErrEmptyExpenseForFile = errors.New("expense is required")
	ErrTripTruckMismatch   = errors.New("trip belongs to a different truck")
	ErrExpenseWithoutTrip  = errors.New("expense is not linked to a trip")
)

const maxDescriptionLen = 200

// Valid reports whether s is a known truck status.
func (s TruckStatus) Valid() bool {
	switch s {
	case TruckActive, TruckMaintenance, TruckInactive:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	return s == TripStarted || s == TripFinished
}

// CanTransitionTo encodes the trip state machine: started -> finished is the
// only transition. Finished is terminal.
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	return s == TripStarted && next == TripFinished
}

// TransitionTo checks that the trip may move to next. Finished is terminal,
// so re-opening a trip is always a StateError.
func (t Trip) TransitionTo(next TripStatus) error {
	if !next.Valid() {
		return Invalid("transition", EntityTrip, t.ID, "status", ErrInvalidTripStatus)
	}
	if !t.Status.CanTransitionTo(next) {
		return InvalidState("transition", EntityTrip, t.ID, string(t.Status), "cannot move trip to "+string(next))
	}
	return nil
}

func (t Truck) Validate() error {
	if strings.TrimSpace(t.OrganizationID) == "" {
		return Invalid("validate", EntityTruck, t.ID, "organization_id", ErrEmptyOrganization)
	}
	if strings.TrimSpace(t.Plate) == "" {
		return Invalid("validate", EntityTruck, t.ID, "plate", ErrEmptyPlate)
	}
	if !t.Status.Valid() {
		return Invalid("validate", EntityTruck, t.ID, "status", ErrInvalidTruckStatus)
	}
	return nil
}

func (d Driver) Validate() error {
	if strings.TrimSpace(d.OrganizationID) == "" {
		return Invalid("validate", EntityDriver, d.ID, "organization_id", ErrEmptyOrganization)
	}
	if strings.TrimSpace(d.Name) == "" {
		return Invalid("validate", EntityDriver, d.ID, "name", ErrEmptyName)
	}
	if strings.TrimSpace(d.NationalID) == "" {
		return Invalid("validate", EntityDriver, d.ID, "national_id", ErrEmptyNationalID)
	}
	return nil
}

func (t Trip) Validate() error {
	if strings.TrimSpace(t.OrganizationID) == "" {
		return Invalid("validate", EntityTrip, t.ID, "organization_id", ErrEmptyOrganization)
	}
	if t.TruckID == "" {
		return Invalid("validate", EntityTrip, t.ID, "truck_id", ErrEmptyTruck)
	}
	if t.DriverID == "" {
		return Invalid("validate", EntityTrip, t.ID, "driver_id", ErrEmptyDriver)
	}
	if strings.TrimSpace(t.Origin) == "" {
		return Invalid("validate", EntityTrip, t.ID, "origin", ErrEmptyOrigin)
	}
	if strings.TrimSpace(t.Destination) == "" {
		return Invalid("validate", EntityTrip, t.ID, "destination", ErrEmptyDestination)
	}
	if !t.Status.Valid() {
		return Invalid("validate", EntityTrip, t.ID, "status", ErrInvalidTripStatus)
	}
	if t.StartOdometer < 0 {
		return Invalid("validate", EntityTrip, t.ID, "start_odometer", ErrNegativeOdometer)
	}
	if t.EndOdometer != nil && *t.EndOdometer < t.StartOdometer {
		return Invalid("validate", EntityTrip, t.ID, "end_odometer", ErrOdometerBelowStart)
	}
	if t.Frete != nil && t.Frete.IsNegative() {
		return Invalid("validate", EntityTrip, t.ID, "frete", ErrNegativeAmount)
	}
	if t.Comissao != nil && t.Comissao.IsNegative() {
		return Invalid("validate", EntityTrip, t.ID, "comissao", ErrNegativeAmount)
	}
	return nil
}

// CommissionOrZero returns the recorded commission, or zero when unset.
func (t Trip) CommissionOrZero() Money {
	if t.Comissao == nil {
		return Money{}
	}
	return *t.Comissao
}

// FinancialsComplete reports whether both freight and commission have been
// recorded. A commission explicitly set to zero counts as recorded.
func (t Trip) FinancialsComplete() bool {
	return t.Frete != nil && t.Comissao != nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.OrganizationID) == "" {
		return Invalid("validate", EntityExpense, e.ID, "organization_id", ErrEmptyOrganization)
	}
	if !e.Category.Valid() {
		return Invalid("validate", EntityExpense, e.ID, "category", ErrUnknownCategory)
	}
	if err := e.Amount.Validate(); err != nil {
		return Invalid("validate", EntityExpense, e.ID, "amount", err)
	}
	if e.TruckID == "" {
		return Invalid("validate", EntityExpense, e.ID, "truck_id", ErrEmptyTruck)
	}
	if len(e.Description) > maxDescriptionLen {
		return Invalid("validate", EntityExpense, e.ID, "description", ErrDescriptionTooLong)
	}
	return nil
}

func (i Income) Validate() error {
	if strings.TrimSpace(i.OrganizationID) == "" {
		return Invalid("validate", EntityIncome, i.ID, "organization_id", ErrEmptyOrganization)
	}
	if err := i.Amount.Validate(); err != nil {
		return Invalid("validate", EntityIncome, i.ID, "amount", err)
	}
	if len(i.Description) > maxDescriptionLen {
		return Invalid("validate", EntityIncome, i.ID, "description", ErrDescriptionTooLong)
	}
	return nil
}

func (img ExpenseImage) Validate() error {
	if img.ExpenseID == "" {
		return Invalid("validate", EntityExpenseImage, img.ID, "expense_id", ErrEmptyExpenseForFile)
	}
	if strings.TrimSpace(img.URL) == "" {
		return Invalid("validate", EntityExpenseImage, img.ID, "url", ErrEmptyExpenseImage)
	}
	return nil
}

// NewDateRange builds a range covering whole days from the start of from to
// the last nanosecond of to, in UTC.
func NewDateRange(from, to time.Time) DateRange {
	f := from.UTC()
	t := to.UTC()
	return DateRange{
		From: time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC),
		To:   time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC),
	}
}

// IsZero reports whether the range is unset, meaning "all time".
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return Invalid("validate", "date_range", "", "from", ErrInvertedDateRange)
	}
	return nil
}

// Contains reports whether t lies within the range, bounds included. A zero
// bound is open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

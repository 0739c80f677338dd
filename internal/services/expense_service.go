package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"fleetcost/internal/amqp"
	"fleetcost/internal/blob"
	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
)

const blobDependency = "blob store"

// ExpenseService records expenses and their receipt images.
type ExpenseService struct {
	repos       *repository.Repositories
	blobs       blob.Store
	trips       *TripManager
	events      EventPublisher
	logger      *log.Logger
	concurrency int
}

func NewExpenseService(repos *repository.Repositories, blobs blob.Store, trips *TripManager, uploadConcurrency int, deps Deps) *ExpenseService {
	deps = deps.withDefaults()
	if uploadConcurrency < 1 {
		uploadConcurrency = 1
	}
	return &ExpenseService{
		repos:       repos,
		blobs:       blobs,
		trips:       trips,
		events:      deps.Events,
		logger:      deps.Logger.WithComponent(log.ComponentExpense),
		concurrency: uploadConcurrency,
	}
}

type RecordExpenseInput struct {
	TruckID     string
	Category    string
	Amount      core.Money
	Description string
	DriverID    *string
	TripID      *string
}

// ImageUpload is one receipt image attached to a new expense.
type ImageUpload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// UpdateExpenseInput edits an expense. Origin and Destination correct the
// route of the linked trip.
type UpdateExpenseInput struct {
	Amount      *core.Money
	Description *string
	Origin      *string
	Destination *string
}

// ExpenseView is an expense with its receipt images.
type ExpenseView struct {
	core.Expense
	Images []core.ExpenseImage
}

// UploadFailure names an image that could not be stored.
type UploadFailure struct {
	FileName string
	Err      error
}

// UploadError lists the images of one expense that failed to upload.
type UploadError struct {
	Failures []UploadFailure
}

func (e *UploadError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.FileName, f.Err)
	}
	return fmt.Sprintf("%d image upload(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *UploadError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// RecordExpense stores the expense row first and then uploads the images.
// When some uploads fail the expense stays recorded: the returned view holds
// the images that made it and the error is a DependencyError wrapping an
// UploadError.
func (s *ExpenseService) RecordExpense(ctx context.Context, org string, in RecordExpenseInput, images []ImageUpload) (ExpenseView, error) {
	cat, err := core.ParseCategory(in.Category)
	if err != nil {
		return ExpenseView{}, err
	}
	e := core.Expense{
		OrganizationID: org,
		Category:       cat,
		Amount:         in.Amount,
		Description:    strings.TrimSpace(in.Description),
		TruckID:        in.TruckID,
		DriverID:       in.DriverID,
		TripID:         in.TripID,
	}
	if err := e.Validate(); err != nil {
		return ExpenseView{}, err
	}

	truck, err := s.repos.Trucks.Get(ctx, org, in.TruckID)
	if err != nil {
		return ExpenseView{}, err
	}
	if err := s.attachTrip(ctx, &e, truck); err != nil {
		return ExpenseView{}, err
	}

	created, err := s.repos.Expenses.Create(ctx, e)
	if err != nil {
		return ExpenseView{}, err
	}
	view := ExpenseView{Expense: created}

	s.logger.InfoContext(ctx, "Expense recorded",
		log.NewFields().
			WithOrganization(org).
			WithExpense(created.ID, created.Category.String(), created.Amount.Cents).
			WithTrip(deref(created.TripID), created.TruckID).
			ToSlice()...)
	publish(ctx, s.events, s.logger,
		amqp.NewEvent(amqp.EventExpenseRecorded, org, created.ID, created.TruckID, created.CreatedAt))

	if len(images) == 0 {
		return view, nil
	}
	stored, uploadErr := s.uploadImages(ctx, created, images)
	view.Images = stored
	if uploadErr != nil {
		return view, core.DependencyFailed("upload images", core.EntityExpense, created.ID, blobDependency, uploadErr)
	}
	return view, nil
}

// attachTrip links the expense to a trip. An explicit trip must be started
// and belong to the same truck. Without one, the truck's current trip is
// used when there is one. The driver defaults to the trip's driver, or to
// the truck's assigned driver. An explicit driver must exist in the
// organization.
func (s *ExpenseService) attachTrip(ctx context.Context, e *core.Expense, truck core.Truck) error {
	var trip *core.Trip
	if e.TripID != nil {
		t, err := s.repos.Trips.Get(ctx, e.OrganizationID, *e.TripID)
		if err != nil {
			return err
		}
		if t.Status != core.TripStarted {
			return core.InvalidState("record", core.EntityExpense, "", string(t.Status), "expenses can only be attached to a started trip")
		}
		if t.TruckID != truck.ID {
			return core.Invalid("record", core.EntityExpense, "", "trip_id", core.ErrTripTruckMismatch)
		}
		trip = &t
	} else {
		current, err := s.trips.currentTrip(ctx, e.OrganizationID, truck.ID)
		if err != nil {
			return err
		}
		if current != nil {
			e.TripID = &current.ID
			trip = current
		}
	}

	if e.DriverID != nil {
		_, err := s.repos.Drivers.Get(ctx, e.OrganizationID, *e.DriverID)
		return err
	}
	switch {
	case trip != nil:
		d := trip.DriverID
		e.DriverID = &d
	case truck.CurrentDriverID != nil:
		d := *truck.CurrentDriverID
		e.DriverID = &d
	}
	return nil
}

func (s *ExpenseService) uploadImages(ctx context.Context, e core.Expense, images []ImageUpload) ([]core.ExpenseImage, error) {
	var (
		mu       sync.Mutex
		stored   = make([]*core.ExpenseImage, len(images))
		failures []UploadFailure
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, img := range images {
		g.Go(func() error {
			name := fmt.Sprintf("%d-%s", i+1, img.FileName)
			rec, err := s.uploadImage(ctx, e, name, img)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, UploadFailure{FileName: img.FileName, Err: err})
				return nil
			}
			stored[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]core.ExpenseImage, 0, len(images))
	for _, rec := range stored {
		if rec != nil {
			out = append(out, *rec)
		}
	}

	if len(failures) > 0 {
		s.logger.WarnContext(ctx, "Some receipt images failed to upload",
			log.FieldExpenseID, e.ID,
			log.FieldImages, len(images),
			"failed", len(failures))
		return out, &UploadError{Failures: failures}
	}
	s.logger.DebugContext(ctx, "Receipt images stored", log.FieldExpenseID, e.ID, log.FieldImages, len(out))
	return out, nil
}

func (s *ExpenseService) uploadImage(ctx context.Context, e core.Expense, name string, img ImageUpload) (core.ExpenseImage, error) {
	if img.Body == nil {
		return core.ExpenseImage{}, blob.ErrEmptyObject
	}
	h, err := s.blobs.Upload(ctx, blob.ObjectPath(e.OrganizationID, e.ID, name), img.ContentType, img.Body)
	if err != nil {
		return core.ExpenseImage{}, err
	}
	return s.repos.Images.Create(ctx, core.ExpenseImage{
		OrganizationID: e.OrganizationID,
		ExpenseID:      e.ID,
		URL:            s.blobs.PublicURL(h),
	})
}

// UpdateExpense changes amount and description, and can correct the route
// of the linked trip. Editing the amount of a commission expense linked to a
// trip also records it as the trip's commission. When the trip write fails
// the expense is restored to its previous values.
func (s *ExpenseService) UpdateExpense(ctx context.Context, org, id string, in UpdateExpenseInput) (core.Expense, error) {
	if in.Amount != nil {
		if err := in.Amount.Validate(); err != nil {
			return core.Expense{}, core.Invalid("update", core.EntityExpense, id, "amount", err)
		}
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		in.Description = &d
	}

	e, err := s.repos.Expenses.Get(ctx, org, id)
	if err != nil {
		return core.Expense{}, err
	}
	route, err := RoutePatch{Origin: in.Origin, Destination: in.Destination}.normalize("update", deref(e.TripID))
	if err != nil {
		return core.Expense{}, err
	}
	if !route.empty() && e.TripID == nil {
		return core.Expense{}, core.Invalid("update", core.EntityExpense, id, "trip_id", core.ErrExpenseWithoutTrip)
	}

	prev := e
	if in.Amount != nil {
		e.Amount = *in.Amount
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	if err := s.repos.Expenses.Update(ctx, org, id, in.Amount, in.Description); err != nil {
		return core.Expense{}, err
	}
	if e.TripID != nil {
		var comissao *core.Money
		if e.Category == core.Comissao && in.Amount != nil {
			comissao = in.Amount
		}
		if err := s.trips.applyExpenseEdit(ctx, org, *e.TripID, comissao, route); err != nil {
			return core.Expense{}, s.restoreExpense(ctx, prev, err)
		}
	}

	s.logger.InfoContext(ctx, "Expense updated",
		log.FieldOrganization, org, log.FieldExpenseID, id, log.FieldAmountCents, e.Amount.Cents)
	return e, nil
}

// restoreExpense writes back the amount and description of prev after its
// trip could not be updated, and returns cause. When the restore fails too
// the error says the expense kept its new values.
func (s *ExpenseService) restoreExpense(ctx context.Context, prev core.Expense, cause error) error {
	if err := s.repos.Expenses.Update(ctx, prev.OrganizationID, prev.ID, &prev.Amount, &prev.Description); err != nil {
		s.logger.ErrorContext(ctx, "Failed to restore expense after trip update failed",
			log.FieldExpenseID, prev.ID, log.FieldTripID, deref(prev.TripID), log.FieldError, err)
		return fmt.Errorf("expense %s updated but trip %s was not, restore failed: %w",
			prev.ID, deref(prev.TripID), errors.Join(cause, err))
	}
	s.logger.WarnContext(ctx, "Expense edit undone after trip update failed",
		log.FieldExpenseID, prev.ID, log.FieldTripID, deref(prev.TripID), log.FieldError, cause)
	return cause
}

// DeleteExpense removes the expense and its image records. Stored blobs are
// left behind.
func (s *ExpenseService) DeleteExpense(ctx context.Context, org, id string) error {
	if _, err := s.repos.Expenses.Get(ctx, org, id); err != nil {
		return err
	}
	if err := s.repos.Images.DeleteByExpense(ctx, org, id); err != nil {
		return err
	}
	if err := s.repos.Expenses.Delete(ctx, org, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Expense deleted", log.FieldOrganization, org, log.FieldExpenseID, id)
	return nil
}

// ListTruckExpenses returns the truck's expenses in rng with their images,
// newest first.
func (s *ExpenseService) ListTruckExpenses(ctx context.Context, org, truckID string, rng core.DateRange) ([]ExpenseView, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repos.Trucks.Get(ctx, org, truckID); err != nil {
		return nil, err
	}
	expenses, err := s.repos.Expenses.List(ctx, org, repository.ExpenseFilter{TruckID: truckID, Range: rng})
	if err != nil {
		return nil, err
	}
	return s.withImages(ctx, org, expenses)
}

func (s *ExpenseService) withImages(ctx context.Context, org string, expenses []core.Expense) ([]ExpenseView, error) {
	ids := make([]string, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	images, err := s.repos.Images.ListByExpenses(ctx, org, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ExpenseView, len(expenses))
	for i, e := range expenses {
		out[i] = ExpenseView{Expense: e, Images: images[e.ID]}
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsPartialUpload reports whether err came from RecordExpense after the
// expense itself was stored.
func IsPartialUpload(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue)
}

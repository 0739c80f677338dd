// Package worker holds the background consumer that settles finished trips.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fleetcost/internal/amqp"
	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/services"
)

// Settler computes the settlement of one trip.
type Settler interface {
	SettleTrip(ctx context.Context, org, tripID string) (services.TripSettlement, error)
}

// Consumer delivers events until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler amqp.Handler) error
}

// SettlementWorker listens for trip.finished events and logs the cost and
// profit summary of each finished trip.
type SettlementWorker struct {
	settler  Settler
	consumer Consumer
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewSettlementWorker(settler Settler, consumer Consumer, logger *log.Logger) *SettlementWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SettlementWorker{
		settler:  settler,
		consumer: consumer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins consuming. Returns an error if already running.
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("settlement worker is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.err = nil

	go w.run(runCtx, w.doneCh)

	w.logger.InfoContext(ctx, "Settlement worker started")
	return nil
}

func (w *SettlementWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := w.consumer.Consume(ctx, w.HandleEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.ErrorContext(ctx, "Event consumption stopped", log.FieldError, err)
	}
	w.mu.Lock()
	w.err = err
	w.running = false
	w.mu.Unlock()
}

// Stop cancels consumption and waits for the in-flight event.
func (w *SettlementWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.doneCh
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		w.logger.InfoContext(ctx, "Settlement worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Settlement worker stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the worker is consuming.
func (w *SettlementWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Done is closed when consumption ends, either through Stop or because the
// consumer gave up. Err reports why.
func (w *SettlementWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

func (w *SettlementWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// HandleEvent settles trip.finished events and ignores the rest. Returning
// an error requeues the delivery, so only dependency failures do.
func (w *SettlementWorker) HandleEvent(ctx context.Context, ev amqp.Event) error {
	if ev.Type != amqp.EventTripFinished {
		w.logger.DebugContext(ctx, "Ignoring event", log.FieldEventType, ev.Type)
		return nil
	}

	st, err := w.settler.SettleTrip(ctx, ev.OrganizationID, ev.EntityID)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		w.logger.WarnContext(ctx, "Finished trip no longer exists",
			log.FieldOrganization, ev.OrganizationID, log.FieldTripID, ev.EntityID)
		return nil
	case errors.Is(err, core.ErrDependency):
		return err
	default:
		w.logger.ErrorContext(ctx, "Trip cannot be settled",
			log.FieldOrganization, ev.OrganizationID,
			log.FieldTripID, ev.EntityID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorType(err))
		return nil
	}

	fields := []any{
		log.FieldOrganization, ev.OrganizationID,
		log.FieldTripID, st.Summary.TripID,
		log.FieldTruckID, st.Summary.TruckID,
		"total_cost_cents", st.Summary.TotalCost.Cents,
		log.FieldCount, st.Summary.ExpenseCount,
	}
	if st.Profit.Profit != nil {
		fields = append(fields, log.FieldProfitCents, st.Profit.Profit.Cents)
	}
	if st.Profit.Incomplete {
		w.logger.WarnContext(ctx, "Trip settled with incomplete financials", fields...)
		return nil
	}
	w.logger.InfoContext(ctx, "Trip settled", fields...)
	return nil
}

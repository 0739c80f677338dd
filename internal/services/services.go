// Package services holds the application services: the trip lifecycle
// manager, fleet administration, expense and income recording, and the
// reports built on the analytics package.
package services

import (
	"context"
	"time"

	"fleetcost/internal/amqp"
	"fleetcost/internal/log"
)

// EventPublisher receives domain events after successful writes.
type EventPublisher interface {
	Publish(ctx context.Context, ev amqp.Event) error
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Events EventPublisher
	Logger *log.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = amqp.Noop{}
	}
	if d.Logger == nil {
		d.Logger = log.Discard()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// publish sends ev and only logs a failure. The write it describes has
// already been committed, so a broker outage must not fail the request.
func publish(ctx context.Context, events EventPublisher, logger *log.Logger, ev amqp.Event) {
	if err := events.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventType, ev.Type,
			log.FieldOrganization, ev.OrganizationID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDependency)
	}
}

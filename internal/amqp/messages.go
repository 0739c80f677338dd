package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types double as routing keys.
const (
	EventTripStarted     = "trip.started"
	EventTripFinished    = "trip.finished"
	EventExpenseRecorded = "expense.recorded"
)

var ErrMalformedEvent = errors.New("malformed event")

// Event is the lightweight notification published after a successful write.
// Consumers load the entity from the record store; the payload carries only
// identifiers.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id"`
	EntityID       string    `json:"entity_id"`
	TruckID        string    `json:"truck_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewEvent(eventType, org, entityID, truckID string, at time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		OrganizationID: org,
		EntityID:       entityID,
		TruckID:        truckID,
		OccurredAt:     at.UTC(),
	}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and rejects payloads without a type,
// organization or entity.
func EventFromJSON(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, errors.Join(ErrMalformedEvent, err)
	}
	if ev.Type == "" || ev.OrganizationID == "" || ev.EntityID == "" {
		return Event{}, ErrMalformedEvent
	}
	return ev, nil
}

// Publisher is satisfied by Client and Noop.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop drops every event. It stands in for the broker when AMQP_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

var (
	_ Publisher = (*Client)(nil)
	_ Publisher = Noop{}
)

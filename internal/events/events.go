// Package events carries notifications between the parts of a session or a server that need to
// react to sales and returns. A Bus is owned by whoever creates it; there is no process-wide bus.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SaleCompleted   = "sale.completed"
	ReturnCompleted = "return.completed"
	SaleCreated     = "sale.created"
	SaleCancelled   = "sale.cancelled"
	ReturnCreated   = "return.created"
	AlertsGenerated = "alerts.generated"
)

type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, payload any) (Event, error) {
	ev := Event{ID: uuid.NewString(), Type: eventType, At: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Decode unmarshals the payload into dest.
func (e Event) Decode(dest any) error {
	return json.Unmarshal(e.Payload, dest)
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a stream of events and a function that ends the subscription.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}

// Emit builds and publishes an event, ignoring a nil bus.
func Emit(ctx context.Context, bus Bus, eventType string, payload any) error {
	if bus == nil {
		return nil
	}
	ev, err := New(eventType, payload)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, ev)
}

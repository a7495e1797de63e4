// Package outbox stores domain events in the same transaction as the state
// change that produced them and publishes them asynchronously.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Message is a durable event awaiting publication.
type Message struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// NewMessage encodes payload as JSON.
func NewMessage(aggregateType, aggregateID, eventType string, payload any, now time.Time) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "marshal %s", eventType)
	}
	return Message{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
	}, nil
}

// Writer appends messages inside the caller's transaction.
type Writer interface {
	Append(ctx context.Context, msgs ...Message) error
}

// Store is the dispatcher's view of the outbox table.
type Store interface {
	// Pending returns unpublished messages in commit order.
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Publisher delivers a message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

package outbox

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Message is a broker-neutral representation of one outbox row.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages to a broker. Publish blocks until the broker acknowledges.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// NewMessage builds the broker message for an outbox row. eventID comes from the decoded envelope.
func NewMessage(topic string, event models.OutboxEvent, eventID string) Message {
	return Message{
		Topic: topic,
		Key:   event.AggregateID,
		Data:  event.Payload,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Event names published on the chat exchange. The routing key is "chat.<name>".
const (
	EventMessageCreated  = "message_created"
	EventSessionCreated  = "session_created"
	EventContactUpdated  = "contact_updated"
	EventSessionDeleted  = "session_deleted"
	EventSettingsUpdated = "settings_updated"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// EventEmitter wraps chat domain events in a versioned envelope.
type EventEmitter struct {
	publisher   Publisher
	service     string
	environment string
	now         func() time.Time
}

type EventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id"`
	SessionID     string `json:"session_id,omitempty"`
	Payload       any    `json:"payload,omitempty"`
}

func NewEventEmitter(publisher Publisher, service, environment string) *EventEmitter {
	return &EventEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes the event. Failures are logged and never returned: chat
// traffic must not depend on the broker.
func (e *EventEmitter) Emit(ctx context.Context, eventType, requestID, sessionID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := EventEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		SessionID:     sessionID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, RoutingKey(eventType), envelope); err != nil {
		slog.Warn("chat event publish failed", "event_type", eventType, "request_id", requestID, "error", err)
	}
}

// RoutingKey maps an event name to its topic routing key.
func RoutingKey(eventType string) string {
	return "chat." + eventType
}

// Package rabbitmq publishes chat domain events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"support-chat/internal/observability"
	"support-chat/internal/telemetry"
)

// ErrUnavailable is returned while the broker connection is down.
var ErrUnavailable = errors.New("rabbitmq unavailable")

const redialInterval = 5 * time.Second

// Publisher publishes chat events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to the broker and declares the exchange. When AMQP
// is not configured or unreachable it returns a noop publisher so chat
// traffic keeps flowing.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		slog.Info("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	p := &amqpPublisher{url: amqpURL, exchange: exchange, dial: amqp.Dial}
	if err := p.connectLocked(); err != nil {
		slog.Warn("rabbitmq disabled, using noop", "reason", err)
		return noopPublisher{reason: err.Error()}
	}
	slog.Info("rabbitmq connected", "exchange", exchange)
	return p
}

type amqpPublisher struct {
	url      string
	exchange string
	dial     func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	closed   chan *amqp.Error
	lastDial time.Time
	shutdown bool
}

func (p *amqpPublisher) connectLocked() error {
	p.lastDial = time.Now()
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn = conn
	p.ch = ch
	p.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

// readyLocked reports whether a usable channel exists, redialing at most
// once per redialInterval after the connection dropped.
func (p *amqpPublisher) readyLocked() bool {
	if p.shutdown {
		return false
	}
	if p.ch != nil {
		select {
		case err := <-p.closed:
			slog.Warn("rabbitmq connection lost", "error", err)
			p.conn, p.ch = nil, nil
		default:
			return true
		}
	}
	if time.Since(p.lastDial) < redialInterval {
		return false
	}
	if err := p.connectLocked(); err != nil {
		slog.Warn("rabbitmq redial failed", "error", err)
		return false
	}
	slog.Info("rabbitmq reconnected", "exchange", p.exchange)
	return true
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{},
		Body:         body,
	}
	if envelope, ok := envelopeOf(event); ok {
		msg.Type = envelope.EventType
		msg.AppId = envelope.Service
		msg.CorrelationId = envelope.RequestID
		for key, value := range observability.BuildHeaders(envelope.RequestID, observability.TraceIDFromContext(ctx)) {
			msg.Headers[key] = value
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.readyLocked() {
		observability.IncAMQPPublishError()
		return ErrUnavailable
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		observability.IncAMQPPublishError()
		slog.Warn("rabbitmq publish failed", "routing_key", routingKey, "error", err)
		return err
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if envelope, ok := envelopeOf(event); ok {
		slog.Debug("rabbitmq noop publish", "routing_key", routingKey, "event_type", envelope.EventType,
			"session_id", envelope.SessionID, "request_id", envelope.RequestID)
		return nil
	}
	slog.Debug("rabbitmq noop publish", "routing_key", routingKey)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

func envelopeOf(event any) (telemetry.EventEnvelope, bool) {
	switch e := event.(type) {
	case telemetry.EventEnvelope:
		return e, true
	case *telemetry.EventEnvelope:
		if e != nil {
			return *e, true
		}
	}
	return telemetry.EventEnvelope{}, false
}

// Describe reports the publisher mode ("amqp" or "noop") and, for noop, why.
func Describe(p Publisher) (mode, reason string) {
	switch publisher := p.(type) {
	case *amqpPublisher:
		return "amqp", ""
	case noopPublisher:
		return "noop", publisher.reason
	default:
		return "unknown", ""
	}
}

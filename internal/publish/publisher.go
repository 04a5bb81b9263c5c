// Package publish drains the engine's event channel into NATS JetStream
// for downstream consumers (dashboards, accounting, alerting).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"LiqGuard/internal/event"
	"LiqGuard/internal/observability"
)

const (
	eventStream   = "LIQ_EVENTS"
	eventSubjects = "liq.events.>"
)

// Envelope is the outbound wire format. Subjects follow the pattern
// liq.events.{event_type}.
type Envelope struct {
	EventType string      `json:"event_type"`
	Key       string      `json:"key"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher publishes engine events to NATS. Publishing is best effort:
// a failed publish is logged and dropped, never retried, because every
// consumer can rebuild its view from the account store.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan event.Event
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Event, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		metrics: metrics,
	}
}

// EnsureStream creates the outbound events stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      eventStream,
		Subjects:  []string{eventSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", eventStream, err)
	}
	log.Printf("INFO: ensured stream %s", eventStream)
	return nil
}

// Run drains the input channel until ctx is cancelled or the channel
// closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, evt); err != nil {
				log.Printf("WARN: publish %s failed: %v", evt.EventType(), err)
				if p.metrics != nil {
					p.metrics.PublishErrors.WithLabelValues(evt.EventType().String()).Inc()
				}
			} else if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(evt.EventType().String()).Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt event.Event) error {
	env := Envelope{
		EventType: evt.EventType().String(),
		Key:       evt.Key(),
		Payload:   evt,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("liq.events.%s", env.EventType)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

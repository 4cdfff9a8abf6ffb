package service

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
)

// EventPublisher pushes enriched events onto the JetStream analytics
// stream. Publishing happens after the redirect response is written, so a
// slow broker never delays a visitor.
type EventPublisher struct {
	js nats.JetStreamContext
}

// NewEventPublisher creates a publisher over the given JetStream context.
func NewEventPublisher(js nats.JetStreamContext) *EventPublisher {
	return &EventPublisher{js: js}
}

// Publish serializes and enqueues the event. The event ID doubles as the
// message dedup ID so broker-side retries stay idempotent.
func (p *EventPublisher) Publish(event *model.AnalyticsEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}

	_, err = p.js.Publish(model.EventStreamSubject, data, nats.MsgId(event.ID))
	if err != nil {
		return fmt.Errorf("publish analytics event: %w", err)
	}
	return nil
}

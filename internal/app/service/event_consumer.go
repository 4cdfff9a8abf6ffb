package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
)

// ingestTimeout bounds one ingestion attempt. It stays under EventAckWait
// so a stalled attempt is abandoned before the broker redelivers the same
// message and races it.
const ingestTimeout = model.EventAckWait - 5*time.Second

// redeliveryDelays backs off each redelivery of a failing event. Indexed by
// delivery attempt, capped at the last entry.
var redeliveryDelays = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// EventConsumer drains the analytics stream into the ingestor. Durability
// is best-effort relative to the redirect: after EventMaxDeliver failed
// attempts an event is dropped, never replayed onto the visitor path.
type EventConsumer struct {
	js       nats.JetStreamContext
	logger   *zap.Logger
	ingestor EventIngestor
	stopChan chan struct{}
}

// EventIngestor is the consumer's view of the ingestion service.
type EventIngestor interface {
	Ingest(ctx context.Context, event *model.AnalyticsEvent) error
}

// NewEventConsumer creates a consumer bound to the given ingestor.
func NewEventConsumer(js nats.JetStreamContext, logger *zap.Logger, ingestor EventIngestor) *EventConsumer {
	return &EventConsumer{
		js:       js,
		logger:   logger,
		ingestor: ingestor,
		stopChan: make(chan struct{}),
	}
}

// Start ensures the stream and durable consumer exist, then consumes in the
// background until Stop.
func (c *EventConsumer) Start() error {
	if _, err := c.js.StreamInfo(model.EventStreamName); err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.EventStreamName,
			Subjects: []string{model.EventStreamSubject},
			MaxBytes: model.EventStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("create analytics stream: %w", err)
		}
	}

	if _, err := c.js.ConsumerInfo(model.EventStreamName, model.EventConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.EventStreamName, &nats.ConsumerConfig{
			Durable:    model.EventConsumerName,
			AckPolicy:  nats.AckExplicitPolicy,
			AckWait:    model.EventAckWait,
			MaxDeliver: model.EventMaxDeliver,
		})
		if err != nil {
			return fmt.Errorf("create analytics consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.EventStreamSubject, model.EventConsumerName)
	if err != nil {
		return fmt.Errorf("subscribe analytics stream: %w", err)
	}

	go c.consume(sub)
	return nil
}

// Stop halts the consume loop after the in-flight batch.
func (c *EventConsumer) Stop() {
	close(c.stopChan)
}

func (c *EventConsumer) consume(sub *nats.Subscription) {
	ctx := context.Background()
	for {
		select {
		case <-c.stopChan:
			c.logger.Info("event consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(32, nats.MaxWait(5*time.Second))
		if err != nil && err != nats.ErrTimeout {
			c.logger.Error("failed to fetch analytics events", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var event model.AnalyticsEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// Malformed payloads never get better; drop immediately.
		c.logger.Error("failed to unmarshal analytics event", zap.Error(err))
		prometheus.EventsDropped.Inc()
		_ = msg.Term()
		return
	}

	ingestCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	if err := c.ingestor.Ingest(ingestCtx, &event); err != nil {
		c.retryOrDrop(msg, &event, err)
		return
	}

	_ = msg.Ack()
}

func (c *EventConsumer) retryOrDrop(msg *nats.Msg, event *model.AnalyticsEvent, cause error) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	if attempt >= model.EventMaxDeliver {
		c.logger.Error("dropping analytics event after retries",
			zap.String("id", event.ID),
			zap.String("link_id", event.LinkID),
			zap.Int("attempts", attempt),
			zap.Error(cause),
		)
		prometheus.EventsDropped.Inc()
		_ = msg.Term()
		return
	}

	delay := redeliveryDelays[len(redeliveryDelays)-1]
	if attempt-1 < len(redeliveryDelays) {
		delay = redeliveryDelays[attempt-1]
	}
	c.logger.Warn("analytics event ingestion failed, scheduling retry",
		zap.String("id", event.ID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	_ = msg.NakWithDelay(delay)
}

package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
)

// EventSink receives successfully ingested events for live fan-out. It must
// never block; a sink is a freshness hint, not part of durability.
type EventSink interface {
	Broadcast(event *model.AnalyticsEvent)
}

// Invalidator drops cached policy snapshots after an exhaustion transition.
type Invalidator interface {
	Invalidate(ctx context.Context, slug, domain string) error
}

// Ingestor applies the durable side effects of one event: append it,
// advance the link's click counter and, on the quota-crossing increment,
// invalidate the cached policy so later hits resolve as exhausted.
type Ingestor struct {
	writer  repository.EventWriter
	catalog Invalidator
	sink    EventSink
	logger  *zap.Logger
}

// IngestorDeps groups ingestor dependencies; Catalog and Sink are optional.
type IngestorDeps struct {
	Writer  repository.EventWriter
	Catalog Invalidator
	Sink    EventSink
	Logger  *zap.Logger
}

// NewIngestor builds an ingestor.
func NewIngestor(deps IngestorDeps) *Ingestor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		writer:  deps.Writer,
		catalog: deps.Catalog,
		sink:    deps.Sink,
		logger:  logger,
	}
}

// Ingest is safe to replay: the row append and the counter advance commit
// in one transaction keyed on the event's ULID, so a redelivered message
// changes nothing and the counter moves at most once per event.
func (i *Ingestor) Ingest(ctx context.Context, event *model.AnalyticsEvent) error {
	res, err := i.writer.Apply(ctx, event, event.Countable())
	if err != nil {
		// Returning the error Naks the message; the transaction rolled back
		// so the replay starts from a clean slate.
		return fmt.Errorf("apply event: %w", err)
	}

	if !res.Inserted {
		// Redelivery of an already-committed event; nothing left to do.
		return nil
	}

	if res.Counter.Exhausting() {
		i.onExhausted(ctx, event.LinkID, res.Counter)
	}

	prometheus.EventsIngested.Inc()
	if i.sink != nil {
		i.sink.Broadcast(event)
	}
	return nil
}

func (i *Ingestor) onExhausted(ctx context.Context, linkID string, res repository.IncrementResult) {
	prometheus.ExhaustionTransitions.Inc()
	i.logger.Info("link quota reached",
		zap.String("link_id", linkID),
		zap.Int64("click_count", res.NewCount),
		zap.Int64("max_clicks", res.MaxClicks),
	)
	if i.catalog == nil {
		return
	}
	if err := i.catalog.Invalidate(ctx, res.Slug, res.Domain); err != nil {
		// Resolution still converges through the cache TTL; the eager
		// invalidation only tightens the window.
		i.logger.Warn("policy invalidation failed",
			zap.String("link_id", linkID),
			zap.Error(err),
		)
	}
}

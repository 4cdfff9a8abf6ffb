package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
)

// memoryEventWriter mirrors the pgx transaction: the row append and the
// guarded counter advance commit together, keyed on the event ULID, so a
// replayed event changes nothing at all.
type memoryEventWriter struct {
	mu        sync.Mutex
	rows      map[string]model.AnalyticsEvent
	count     int64
	maxClicks int64
	failN     int
}

func newMemoryEventWriter() *memoryEventWriter {
	return &memoryEventWriter{rows: make(map[string]model.AnalyticsEvent)}
}

func (w *memoryEventWriter) Apply(ctx context.Context, event *model.AnalyticsEvent, countable bool) (repository.ApplyResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failN > 0 {
		w.failN--
		return repository.ApplyResult{}, errors.New("store unavailable")
	}

	var res repository.ApplyResult
	if _, exists := w.rows[event.ID]; exists {
		return res, nil
	}
	w.rows[event.ID] = *event
	res.Inserted = true

	if countable && (w.maxClicks == 0 || w.count < w.maxClicks) {
		w.count++
		res.Counter = repository.IncrementResult{
			Counted:   true,
			NewCount:  w.count,
			MaxClicks: w.maxClicks,
			Slug:      "promo",
			Domain:    "go.example.com",
		}
	}
	return res, nil
}

func (w *memoryEventWriter) rowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

func (w *memoryEventWriter) clickCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type mockInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockInvalidator) Invalidate(ctx context.Context, slug, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, domain+"/"+slug)
	return m.err
}

type mockSink struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
}

func (m *mockSink) Broadcast(event *model.AnalyticsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
}

func countableEvent() *model.AnalyticsEvent {
	return &model.AnalyticsEvent{
		ID:          ulid.Make().String(),
		LinkID:      "link-1",
		ProjectID:   "proj-1",
		WorkspaceID: "ws-1",
		EventType:   model.EventTypeClick,
		OccurredAt:  time.Now().UTC(),
	}
}

func TestIngest_CountsAndBroadcasts(t *testing.T) {
	writer := newMemoryEventWriter()
	sink := &mockSink{}
	ing := NewIngestor(IngestorDeps{Writer: writer, Sink: sink})

	if err := ing.Ingest(context.Background(), countableEvent()); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if writer.rowCount() != 1 {
		t.Fatalf("expected 1 stored event, got %d", writer.rowCount())
	}
	if writer.clickCount() != 1 {
		t.Fatalf("expected 1 counted click, got %d", writer.clickCount())
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(sink.events))
	}
}

func TestIngest_NonCountableSkipsCounter(t *testing.T) {
	writer := newMemoryEventWriter()
	ing := NewIngestor(IngestorDeps{Writer: writer})

	for _, et := range []model.EventType{model.EventTypeBot, model.EventTypeDirect, model.EventTypeAPI} {
		e := countableEvent()
		e.EventType = et
		if et == model.EventTypeBot {
			e.IsBot = true
		}
		if err := ing.Ingest(context.Background(), e); err != nil {
			t.Fatalf("Ingest(%s) returned error: %v", et, err)
		}
	}
	if writer.clickCount() != 0 {
		t.Fatalf("non-countable events advanced the counter: %d", writer.clickCount())
	}
	if writer.rowCount() != 3 {
		t.Fatalf("non-countable events must still be stored, got %d", writer.rowCount())
	}
}

func TestIngest_NConcurrentHitsCountExactlyN(t *testing.T) {
	const n = 200
	writer := newMemoryEventWriter()
	ing := NewIngestor(IngestorDeps{Writer: writer})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ing.Ingest(context.Background(), countableEvent())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Ingest returned error: %v", err)
		}
	}

	if writer.clickCount() != n {
		t.Fatalf("expected exactly %d counted clicks, got %d", n, writer.clickCount())
	}
	if writer.rowCount() != n {
		t.Fatalf("expected %d stored events, got %d", n, writer.rowCount())
	}
}

func TestIngest_QuotaNeverExceeded(t *testing.T) {
	const quota = 10
	writer := newMemoryEventWriter()
	writer.maxClicks = quota
	inv := &mockInvalidator{}
	ing := NewIngestor(IngestorDeps{Writer: writer, Catalog: inv})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ing.Ingest(context.Background(), countableEvent())
		}()
	}
	wg.Wait()

	if writer.clickCount() != quota {
		t.Fatalf("counter must stop at the quota, got %d", writer.clickCount())
	}
	// Only the quota-crossing increment triggers invalidation.
	if len(inv.calls) != 1 {
		t.Fatalf("expected exactly 1 invalidation, got %d", len(inv.calls))
	}
	if inv.calls[0] != "go.example.com/promo" {
		t.Fatalf("unexpected invalidation key %s", inv.calls[0])
	}
}

func TestIngest_RedeliveryNeverDoubleCounts(t *testing.T) {
	writer := newMemoryEventWriter()
	sink := &mockSink{}
	ing := NewIngestor(IngestorDeps{Writer: writer, Sink: sink})

	// The broker redelivers after a lost ack; every delivery past the first
	// must leave rows, counter and fan-out untouched.
	event := countableEvent()
	for i := 0; i < 3; i++ {
		if err := ing.Ingest(context.Background(), event); err != nil {
			t.Fatalf("delivery %d returned error: %v", i+1, err)
		}
	}

	if writer.rowCount() != 1 {
		t.Fatalf("redeliveries must not duplicate rows, got %d", writer.rowCount())
	}
	if writer.clickCount() != 1 {
		t.Fatalf("redeliveries must not advance the counter, got %d", writer.clickCount())
	}
	if len(sink.events) != 1 {
		t.Fatalf("redeliveries must not re-broadcast, got %d", len(sink.events))
	}
}

func TestIngest_ApplyFailurePropagates(t *testing.T) {
	writer := newMemoryEventWriter()
	writer.failN = 1
	sink := &mockSink{}
	ing := NewIngestor(IngestorDeps{Writer: writer, Sink: sink})

	event := countableEvent()
	if err := ing.Ingest(context.Background(), event); err == nil {
		t.Fatal("expected error when the store is down")
	}
	if writer.clickCount() != 0 || len(sink.events) != 0 {
		t.Fatal("a rolled-back transaction must not count or broadcast")
	}

	// The redelivery succeeds and converges.
	if err := ing.Ingest(context.Background(), event); err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}
	if writer.rowCount() != 1 || writer.clickCount() != 1 {
		t.Fatalf("redelivery must converge: stored=%d counted=%d", writer.rowCount(), writer.clickCount())
	}
}

func TestIngest_InvalidationFailureIsNotFatal(t *testing.T) {
	writer := newMemoryEventWriter()
	writer.maxClicks = 1
	inv := &mockInvalidator{err: errors.New("redis down")}
	ing := NewIngestor(IngestorDeps{Writer: writer, Catalog: inv})

	if err := ing.Ingest(context.Background(), countableEvent()); err != nil {
		t.Fatalf("invalidation failure must not fail ingestion: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
)

// Aggregator computes the derived analytics view over a filtered,
// time-bounded event slice. It is read-only and safe to run concurrently
// with ingestion: each query works on the single snapshot its fetch
// returned, never on a mix of states.
type Aggregator struct {
	events  repository.EventRepository
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// AggregatorDeps groups aggregator dependencies.
type AggregatorDeps struct {
	Events repository.EventRepository
	// Timeout caps a query; past it the aggregation returns whatever was
	// computed, explicitly marked partial, instead of blocking.
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewAggregator builds an aggregator.
func NewAggregator(deps AggregatorDeps) *Aggregator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		events:  deps.Events,
		timeout: deps.Timeout,
		logger:  logger,
		now:     now,
	}
}

// Aggregate resolves the query window, fetches the scoped slice once,
// applies the dimension filters in memory and derives totals, the
// zero-filled series, every breakdown and the paginated events flow from
// that same filtered set, so percentages stay internally consistent.
// Identical input yields identical output.
func (a *Aggregator) Aggregate(ctx context.Context, q model.AggregationQuery) (*model.Aggregation, error) {
	q.Normalize()

	now := a.now().UTC()
	from := q.Interval.Window(now)
	gran := q.Interval.Granularity()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	agg := &model.Aggregation{
		Interval:    q.Interval,
		From:        from,
		To:          now,
		Granularity: gran,
		Breakdowns:  make(map[model.Dimension][]model.BreakdownItem, len(model.Dimensions)),
	}

	filtered, err := a.fetchFiltered(ctx, q, from, now)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("aggregation timed out before fetch completed",
				zap.String("workspace_id", q.WorkspaceID))
			agg.Partial = true
			// Keep the response shape of the full path: empty slices, not
			// nulls, so clients parse partial results the same way.
			agg.TimeSeries = []model.TimePoint{}
			agg.EventsFlow = model.EventsPage{
				Page:     q.Page,
				PageSize: q.PageSize,
				Events:   []model.AnalyticsEvent{},
			}
			return agg, nil
		}
		return nil, err
	}

	agg.TotalEvents = int64(len(filtered))
	for i := range filtered {
		if !filtered[i].Countable() {
			continue
		}
		switch filtered[i].EventType {
		case model.EventTypeClick:
			agg.TotalClicks++
		case model.EventTypeScan:
			agg.TotalScans++
		}
	}

	agg.TimeSeries = buildTimeSeries(filtered, from, now, gran)

	for _, d := range model.Dimensions {
		if ctx.Err() != nil {
			agg.Partial = true
			break
		}
		agg.Breakdowns[d] = buildBreakdown(filtered, d, agg.TotalEvents)
	}

	agg.EventsFlow = paginate(filtered, q.Page, q.PageSize)
	return agg, nil
}

// FilteredEvents returns the full filtered slice most-recent-first, used by
// the export surface so downloads carry exactly what the aggregation saw.
func (a *Aggregator) FilteredEvents(ctx context.Context, q model.AggregationQuery) ([]model.AnalyticsEvent, error) {
	q.Normalize()

	now := a.now().UTC()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	filtered, err := a.fetchFiltered(ctx, q, q.Interval.Window(now), now)
	if err != nil {
		return nil, err
	}
	reverse(filtered)
	return filtered, nil
}

func (a *Aggregator) fetchFiltered(ctx context.Context, q model.AggregationQuery, from, until time.Time) ([]model.AnalyticsEvent, error) {
	events, err := a.events.Window(ctx, repository.WindowQuery{
		WorkspaceID: q.WorkspaceID,
		ProjectID:   q.ProjectID,
		LinkID:      q.LinkID,
		From:        from,
		Until:       until,
	})
	if err != nil {
		return nil, err
	}
	if len(q.Filters) == 0 {
		return events, nil
	}

	filtered := make([]model.AnalyticsEvent, 0, len(events))
	for i := range events {
		if q.Filters.Match(&events[i]) {
			filtered = append(filtered, events[i])
		}
	}
	return filtered, nil
}

// buildTimeSeries zero-fills every bucket between the window edges; the
// series is never sparse. An unbounded window anchors on the first event.
func buildTimeSeries(events []model.AnalyticsEvent, from, until time.Time, gran model.Granularity) []model.TimePoint {
	start := from
	if start.IsZero() {
		if len(events) == 0 {
			return []model.TimePoint{}
		}
		start = events[0].OccurredAt
	}
	start = gran.Truncate(start)
	end := gran.Truncate(until)

	counts := make(map[time.Time]int64, len(events))
	for i := range events {
		counts[gran.Truncate(events[i].OccurredAt)]++
	}

	series := make([]model.TimePoint, 0, 64)
	for t := start; !t.After(end); t = gran.Next(t) {
		series = append(series, model.TimePoint{Timestamp: t, Total: counts[t]})
	}
	return series
}

// buildBreakdown groups the filtered set by one dimension. Percentages use
// the filtered total as denominator and stay unrounded; rounding is a
// presentation concern.
func buildBreakdown(events []model.AnalyticsEvent, d model.Dimension, filteredTotal int64) []model.BreakdownItem {
	type geoExtra struct {
		lat, lon *float64
	}

	counts := make(map[string]int64)
	extras := make(map[string]geoExtra)
	for i := range events {
		v := events[i].DimensionValue(d)
		counts[v]++
		if d == model.DimensionCity {
			if _, seen := extras[v]; !seen && events[i].Lat != nil {
				extras[v] = geoExtra{lat: events[i].Lat, lon: events[i].Lon}
			}
		}
	}

	items := make([]model.BreakdownItem, 0, len(counts))
	for value, total := range counts {
		item := model.BreakdownItem{
			Value: value,
			Label: breakdownLabel(d, value),
			Total: total,
		}
		if filteredTotal > 0 {
			item.Percentage = float64(total) / float64(filteredTotal) * 100
		}
		switch d {
		case model.DimensionCountry, model.DimensionContinent:
			if value != model.UnknownValue {
				item.Code = value
			}
		case model.DimensionCity:
			if extra, ok := extras[value]; ok {
				item.Lat = extra.lat
				item.Lon = extra.lon
			}
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Total != items[j].Total {
			return items[i].Total > items[j].Total
		}
		return items[i].Value < items[j].Value
	})
	return items
}

func breakdownLabel(d model.Dimension, value string) string {
	if d == model.DimensionBot {
		if value == "true" {
			return "Bots"
		}
		return "Humans"
	}
	return value
}

// paginate slices the most-recent-first events flow. The input arrives in
// ascending occurrence order.
func paginate(events []model.AnalyticsEvent, page, pageSize int) model.EventsPage {
	desc := make([]model.AnalyticsEvent, len(events))
	copy(desc, events)
	reverse(desc)

	out := model.EventsPage{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: int64(len(desc)),
		Events:     []model.AnalyticsEvent{},
	}

	start := (page - 1) * pageSize
	if start >= len(desc) {
		return out
	}
	end := start + pageSize
	if end > len(desc) {
		end = len(desc)
	}
	out.Events = desc[start:end]
	return out
}

func reverse(events []model.AnalyticsEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

package model

import (
	"errors"
	"time"
)

var (
	// ErrUnknownDimension is returned when a filter references a dimension
	// outside the closed set below.
	ErrUnknownDimension = errors.New("unknown filter dimension")

	// ErrUnknownInterval is returned for an unrecognized aggregation period.
	ErrUnknownInterval = errors.New("unknown aggregation interval")
)

// Dimension is a closed enum of the facets an aggregation can break down or
// filter on. Unknown dimension keys are rejected at the parse boundary
// instead of being carried around as loose strings.
type Dimension string

const (
	DimensionCountry     Dimension = "country"
	DimensionCity        Dimension = "city"
	DimensionContinent   Dimension = "continent"
	DimensionDevice      Dimension = "device"
	DimensionOS          Dimension = "os"
	DimensionBrowser     Dimension = "browser"
	DimensionLanguage    Dimension = "language"
	DimensionReferer     Dimension = "referer"
	DimensionEventType   Dimension = "event_type"
	DimensionBot         Dimension = "bot"
	DimensionUTMSource   Dimension = "utm_source"
	DimensionUTMMedium   Dimension = "utm_medium"
	DimensionUTMCampaign Dimension = "utm_campaign"
)

// Dimensions lists every known dimension in presentation order.
var Dimensions = []Dimension{
	DimensionCountry,
	DimensionCity,
	DimensionContinent,
	DimensionDevice,
	DimensionOS,
	DimensionBrowser,
	DimensionLanguage,
	DimensionReferer,
	DimensionEventType,
	DimensionBot,
	DimensionUTMSource,
	DimensionUTMMedium,
	DimensionUTMCampaign,
}

// ParseDimension validates a raw dimension key.
func ParseDimension(raw string) (Dimension, error) {
	d := Dimension(raw)
	for _, known := range Dimensions {
		if d == known {
			return d, nil
		}
	}
	return "", ErrUnknownDimension
}

// DimensionValue extracts the event's value for a dimension. Empty facet
// values collapse into the "unknown" bucket so breakdown totals always sum
// to the filtered total.
func (e *AnalyticsEvent) DimensionValue(d Dimension) string {
	var v string
	switch d {
	case DimensionCountry:
		v = e.Country
	case DimensionCity:
		v = e.City
	case DimensionContinent:
		v = e.Continent
	case DimensionDevice:
		v = e.Device
	case DimensionOS:
		v = e.OS
	case DimensionBrowser:
		v = e.Browser
	case DimensionLanguage:
		v = e.Language
	case DimensionReferer:
		v = e.Referer
	case DimensionEventType:
		v = string(e.EventType)
	case DimensionBot:
		if e.IsBot {
			return "true"
		}
		return "false"
	case DimensionUTMSource:
		v = e.UTMSource
	case DimensionUTMMedium:
		v = e.UTMMedium
	case DimensionUTMCampaign:
		v = e.UTMCampaign
	}
	if v == "" {
		return UnknownValue
	}
	return v
}

// Filters maps dimensions to accepted value sets. Dimensions combine with
// AND, values within a dimension with OR; an absent dimension is
// unconstrained.
type Filters map[Dimension][]string

// ParseFilters validates raw query keys into typed filters, rejecting any
// unknown dimension.
func ParseFilters(raw map[string][]string) (Filters, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(Filters, len(raw))
	for key, values := range raw {
		d, err := ParseDimension(key)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			out[d] = values
		}
	}
	return out, nil
}

// Match reports whether the event passes every active filter.
func (f Filters) Match(e *AnalyticsEvent) bool {
	for d, accepted := range f {
		v := e.DimensionValue(d)
		ok := false
		for _, a := range accepted {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// HasDimension reports whether the filter constrains the given dimension.
func (f Filters) HasDimension(d Dimension) bool {
	_, ok := f[d]
	return ok
}

// Granularity is the bucket width of an aggregation time series.
type Granularity string

const (
	GranularitySecond Granularity = "second"
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityMonth  Granularity = "month"
)

// Truncate floors a timestamp to its bucket start in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularitySecond:
		return t.Truncate(time.Second)
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the start of the bucket following t.
func (g Granularity) Next(t time.Time) time.Time {
	switch g {
	case GranularitySecond:
		return t.Add(time.Second)
	case GranularityMinute:
		return t.Add(time.Minute)
	case GranularityHour:
		return t.Add(time.Hour)
	case GranularityDay:
		return t.AddDate(0, 0, 1)
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	}
	return t
}

// Interval is the requested aggregation window. Each interval pairs with a
// granularity coarse enough to keep the series bounded regardless of window
// length.
type Interval string

const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval30Min Interval = "30min"
	Interval1H    Interval = "1h"
	Interval6H    Interval = "6h"
	Interval12H   Interval = "12h"
	Interval24H   Interval = "24h"
	Interval7D    Interval = "7d"
	Interval30D   Interval = "30d"
	Interval90D   Interval = "90d"
	Interval1Y    Interval = "1y"
	IntervalAll   Interval = "all"
)

type intervalSpec struct {
	span        time.Duration
	granularity Granularity
}

var intervalSpecs = map[Interval]intervalSpec{
	Interval1Min:  {time.Minute, GranularitySecond},
	Interval5Min:  {5 * time.Minute, GranularitySecond},
	Interval15Min: {15 * time.Minute, GranularityMinute},
	Interval30Min: {30 * time.Minute, GranularityMinute},
	Interval1H:    {time.Hour, GranularityMinute},
	Interval6H:    {6 * time.Hour, GranularityMinute},
	Interval12H:   {12 * time.Hour, GranularityHour},
	Interval24H:   {24 * time.Hour, GranularityHour},
	Interval7D:    {7 * 24 * time.Hour, GranularityHour},
	Interval30D:   {30 * 24 * time.Hour, GranularityDay},
	Interval90D:   {90 * 24 * time.Hour, GranularityDay},
	Interval1Y:    {365 * 24 * time.Hour, GranularityMonth},
	IntervalAll:   {0, GranularityMonth},
}

// ParseInterval validates a raw period string.
func ParseInterval(raw string) (Interval, error) {
	i := Interval(raw)
	if _, ok := intervalSpecs[i]; !ok {
		return "", ErrUnknownInterval
	}
	return i, nil
}

// Window resolves the interval to a concrete start time relative to now.
// The zero time means unbounded ("all").
func (i Interval) Window(now time.Time) time.Time {
	spec := intervalSpecs[i]
	if spec.span == 0 {
		return time.Time{}
	}
	return now.Add(-spec.span)
}

// Granularity returns the bucket width paired with the interval.
func (i Interval) Granularity() Granularity {
	return intervalSpecs[i].granularity
}

// BreakdownItem is one row of a dimension breakdown. Percentage is relative
// to the filtered total and kept unrounded; geo items additionally carry the
// ISO code and, for cities, representative coordinates.
type BreakdownItem struct {
	Value      string   `json:"value"`
	Label      string   `json:"label"`
	Total      int64    `json:"total"`
	Percentage float64  `json:"percentage"`
	Code       string   `json:"code,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

// TimePoint is one zero-filled bucket of the aggregation time series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Total     int64     `json:"total"`
}

// EventsPage is the paginated most-recent-first raw event listing.
type EventsPage struct {
	Events     []AnalyticsEvent `json:"events"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalCount int64            `json:"total_count"`
}

// Aggregation is the derived analytics view over a filtered event slice.
type Aggregation struct {
	Interval    Interval                      `json:"interval"`
	From        time.Time                     `json:"from"`
	To          time.Time                     `json:"to"`
	Granularity Granularity                   `json:"granularity"`
	TotalEvents int64                         `json:"total_events"`
	TotalClicks int64                         `json:"total_clicks"`
	TotalScans  int64                         `json:"total_scans"`
	TimeSeries  []TimePoint                   `json:"time_series"`
	Breakdowns  map[Dimension][]BreakdownItem `json:"breakdowns"`
	EventsFlow  EventsPage                    `json:"events_flow"`
	Partial     bool                          `json:"partial"`
}

// AggregationQuery scopes an aggregation request.
type AggregationQuery struct {
	WorkspaceID string
	ProjectID   string
	LinkID      string
	Interval    Interval
	Filters     Filters
	Page        int
	PageSize    int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Normalize applies pagination defaults in place.
func (q *AggregationQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	if q.Interval == "" {
		q.Interval = Interval24H
	}
}

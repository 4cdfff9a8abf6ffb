package service

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
)

// ErrInvalidPolicy signals a policy with no determinable destination. The
// caller serves a generic error page; internals are never exposed.
var ErrInvalidPolicy = errors.New("link policy has no usable destination")

// Outcome tags how a destination was chosen.
type Outcome string

const (
	OutcomeDefault    Outcome = "default"
	OutcomeGeoMatched Outcome = "geo_matched"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeBlocked    Outcome = "blocked"
)

// RequestContext is the per-hit input to resolution. Codes are ISO, any
// case; comparison is case-insensitive.
type RequestContext struct {
	CountryCode   string
	ContinentCode string
	Timestamp     time.Time
}

// Resolution is the decision for one hit: where to send the visitor and
// what side effects the pipeline should apply.
type Resolution struct {
	Destination string
	Outcome     Outcome
	Rule        *model.GeoRule

	// Record is false only for blocked hits; everything else produces an
	// analytics event.
	Record bool

	// Countable gates the click counter: exhausted hits are recorded for
	// observability as "direct" but never billed against the quota.
	Countable bool
	EventType model.EventType
}

// Resolve decides the destination for a hit against a policy snapshot. It
// is pure: no storage, no clock reads, fully determined by its inputs, and
// therefore independent of ingestion latency.
func Resolve(policy model.PolicySnapshot, rctx RequestContext) (Resolution, error) {
	if policy.Status != model.LinkStatusActive {
		return Resolution{Outcome: OutcomeBlocked}, nil
	}

	if policy.Exhausted(rctx.Timestamp) {
		dest := firstNonEmpty(policy.ExpirationURL, policy.FallbackURL, policy.DestinationURL)
		if dest == "" {
			return Resolution{}, ErrInvalidPolicy
		}
		return Resolution{
			Destination: dest,
			Outcome:     OutcomeExhausted,
			Record:      true,
			Countable:   false,
			EventType:   model.EventTypeDirect,
		}, nil
	}

	if rule := matchGeoRule(policy.GeoRules, rctx); rule != nil {
		return Resolution{
			Destination: rule.URL,
			Outcome:     OutcomeGeoMatched,
			Rule:        rule,
			Record:      true,
			Countable:   true,
			EventType:   model.EventTypeClick,
		}, nil
	}

	if policy.DestinationURL == "" {
		return Resolution{}, ErrInvalidPolicy
	}
	return Resolution{
		Destination: policy.DestinationURL,
		Outcome:     OutcomeDefault,
		Record:      true,
		Countable:   true,
		EventType:   model.EventTypeClick,
	}, nil
}

// matchGeoRule returns the first structurally matching rule in ascending
// priority order, ties kept in slice order.
func matchGeoRule(rules model.GeoRules, rctx RequestContext) *model.GeoRule {
	if len(rules) == 0 {
		return nil
	}

	ordered := make(model.GeoRules, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for i := range ordered {
		rule := &ordered[i]
		if rule.URL == "" {
			continue
		}
		switch rule.Scope {
		case model.GeoScopeCountry:
			if rctx.CountryCode != "" && strings.EqualFold(rule.Target, rctx.CountryCode) {
				return rule
			}
		case model.GeoScopeContinent:
			if rctx.ContinentCode != "" && strings.EqualFold(rule.Target, rctx.ContinentCode) {
				return rule
			}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package service

import (
	"errors"
	"testing"
	"time"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
)

func snapshot(p model.LinkPolicy) model.PolicySnapshot {
	return p.Snapshot(time.Now())
}

func activePolicy() model.LinkPolicy {
	return model.LinkPolicy{
		ID:             "link-1",
		Slug:           "promo",
		DomainID:       "go.example.com",
		DestinationURL: "https://example.com/landing",
		Status:         model.LinkStatusActive,
	}
}

func TestResolve_Default(t *testing.T) {
	res, err := Resolve(snapshot(activePolicy()), RequestContext{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeDefault {
		t.Fatalf("expected default outcome, got %s", res.Outcome)
	}
	if res.Destination != "https://example.com/landing" {
		t.Fatalf("unexpected destination %s", res.Destination)
	}
	if !res.Record || !res.Countable {
		t.Fatal("default resolution must record a countable event")
	}
	if res.EventType != model.EventTypeClick {
		t.Fatalf("expected click event, got %s", res.EventType)
	}
}

func TestResolve_Blocked(t *testing.T) {
	for _, status := range []model.LinkStatus{model.LinkStatusArchived, model.LinkStatusDeleted} {
		p := activePolicy()
		p.Status = status

		res, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if res.Outcome != OutcomeBlocked {
			t.Fatalf("status %s: expected blocked, got %s", status, res.Outcome)
		}
		if res.Record {
			t.Fatal("blocked hits must not record events")
		}
	}
}

func TestResolve_GeoCountryBeatsContinent(t *testing.T) {
	p := activePolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 0, Scope: model.GeoScopeCountry, Target: "FR", URL: "https://example.com/fr"},
		{Priority: 1, Scope: model.GeoScopeContinent, Target: "EU", URL: "https://example.com/eu"},
	}

	res, err := Resolve(snapshot(p), RequestContext{
		CountryCode:   "FR",
		ContinentCode: "EU",
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeGeoMatched {
		t.Fatalf("expected geo match, got %s", res.Outcome)
	}
	if res.Destination != "https://example.com/fr" {
		t.Fatalf("country rule should win, got %s", res.Destination)
	}
	if res.Rule == nil || res.Rule.Target != "FR" {
		t.Fatal("matched rule should be reported")
	}
}

func TestResolve_GeoPriorityOrderAndTies(t *testing.T) {
	p := activePolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 5, Scope: model.GeoScopeContinent, Target: "EU", URL: "https://example.com/low"},
		{Priority: 1, Scope: model.GeoScopeContinent, Target: "EU", URL: "https://example.com/first-tie"},
		{Priority: 1, Scope: model.GeoScopeContinent, Target: "EU", URL: "https://example.com/second-tie"},
	}

	res, err := Resolve(snapshot(p), RequestContext{ContinentCode: "eu", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Destination != "https://example.com/first-tie" {
		t.Fatalf("ties must keep slice order, got %s", res.Destination)
	}
}

func TestResolve_GeoCaseInsensitive(t *testing.T) {
	p := activePolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 0, Scope: model.GeoScopeCountry, Target: "fr", URL: "https://example.com/fr"},
	}

	res, err := Resolve(snapshot(p), RequestContext{CountryCode: "FR", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeGeoMatched {
		t.Fatalf("expected case-insensitive match, got %s", res.Outcome)
	}
}

func TestResolve_NoGeoContextFallsThrough(t *testing.T) {
	p := activePolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 0, Scope: model.GeoScopeCountry, Target: "FR", URL: "https://example.com/fr"},
	}

	res, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeDefault {
		t.Fatalf("expected default without geo context, got %s", res.Outcome)
	}
}

func TestResolve_ExpiredUsesFallbackOverGeo(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	p := activePolicy()
	p.ExpireAt = &past
	p.FallbackURL = "https://example.com/fallback"
	p.GeoRules = model.GeoRules{
		{Priority: 0, Scope: model.GeoScopeCountry, Target: "FR", URL: "https://example.com/fr"},
	}

	res, err := Resolve(snapshot(p), RequestContext{CountryCode: "FR", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted, got %s", res.Outcome)
	}
	if res.Destination != "https://example.com/fallback" {
		t.Fatalf("expired link must use fallback, got %s", res.Destination)
	}
	if res.Countable {
		t.Fatal("exhausted hits must not be countable")
	}
	if res.EventType != model.EventTypeDirect {
		t.Fatalf("exhausted hits are recorded as direct, got %s", res.EventType)
	}
}

func TestResolve_ExpirationURLPrecedence(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	p := activePolicy()
	p.ExpireAt = &past
	p.ExpirationURL = "https://example.com/expired"
	p.FallbackURL = "https://example.com/fallback"

	res, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Destination != "https://example.com/expired" {
		t.Fatalf("expiration url must win over fallback, got %s", res.Destination)
	}
}

func TestResolve_QuotaExhaustionIsMonotonic(t *testing.T) {
	p := activePolicy()
	p.MaxClicks = 3
	p.ClickCount = 3

	for hits := 0; hits < 5; hits++ {
		res, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if res.Outcome != OutcomeExhausted {
			t.Fatalf("hit %d: exhaustion must be permanent, got %s", hits, res.Outcome)
		}
		p.ClickCount++ // even drifting counters never un-exhaust
	}
}

func TestResolve_BelowQuotaStillDefault(t *testing.T) {
	p := activePolicy()
	p.MaxClicks = 3
	p.ClickCount = 2

	res, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Outcome != OutcomeDefault {
		t.Fatalf("below quota must resolve normally, got %s", res.Outcome)
	}
}

func TestResolve_InvalidPolicy(t *testing.T) {
	p := activePolicy()
	p.DestinationURL = ""

	_, err := Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}

	// Exhausted with no destination at all is equally invalid.
	past := time.Now().Add(-time.Hour)
	p.ExpireAt = &past
	_, err = Resolve(snapshot(p), RequestContext{Timestamp: time.Now()})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy for exhausted, got %v", err)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	p := activePolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 2, Scope: model.GeoScopeContinent, Target: "EU", URL: "https://example.com/eu"},
		{Priority: 1, Scope: model.GeoScopeCountry, Target: "DE", URL: "https://example.com/de"},
	}
	rctx := RequestContext{CountryCode: "DE", ContinentCode: "EU", Timestamp: time.Now()}

	first, err := Resolve(snapshot(p), rctx)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Resolve(snapshot(p), rctx)
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if again.Destination != first.Destination || again.Outcome != first.Outcome {
			t.Fatal("resolution must be deterministic for identical inputs")
		}
	}
}

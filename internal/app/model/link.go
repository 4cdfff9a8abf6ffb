package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LinkStatus is the lifecycle state of a short link, managed by the CRUD layer.
type LinkStatus string

const (
	LinkStatusActive   LinkStatus = "active"
	LinkStatusArchived LinkStatus = "archived"
	LinkStatusDeleted  LinkStatus = "deleted"
)

// GeoScope selects which part of the visitor location a geo rule matches on.
type GeoScope string

const (
	GeoScopeCountry   GeoScope = "country"
	GeoScopeContinent GeoScope = "continent"
)

// GeoRule is a destination override keyed by the visitor's country or
// continent. Rules are evaluated in ascending Priority order; ties keep
// slice order.
type GeoRule struct {
	Priority int      `json:"priority"`
	Scope    GeoScope `json:"scope"`
	Target   string   `json:"target"`
	URL      string   `json:"url"`
}

// GeoRules is stored as a jsonb column on the links table.
type GeoRules []GeoRule

func (g GeoRules) Value() (driver.Value, error) {
	if len(g) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal geo rules: %w", err)
	}
	return string(data), nil
}

func (g *GeoRules) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*g = nil
		return nil
	case []byte:
		return json.Unmarshal(v, g)
	case string:
		return json.Unmarshal([]byte(v), g)
	default:
		return fmt.Errorf("scan geo rules: unsupported type %T", src)
	}
}

// LinkPolicy is the read-mostly policy bundle the redirect engine consumes.
// The row itself is owned by the CRUD layer; this service only reads it and
// bumps click_count through the counter store.
type LinkPolicy struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	Slug           string     `json:"slug" gorm:"size:190;not null;uniqueIndex:idx_links_slug_domain"`
	DomainID       string     `json:"domain_id" gorm:"size:36;uniqueIndex:idx_links_slug_domain"`
	WorkspaceID    string     `json:"workspace_id" gorm:"size:36;index"`
	ProjectID      string     `json:"project_id" gorm:"size:36;index"`
	DestinationURL string     `json:"destination_url" gorm:"type:text;not null"`
	FallbackURL    string     `json:"fallback_url" gorm:"type:text"`
	Status         LinkStatus `json:"status" gorm:"size:16;not null;default:active"`
	GeoRules       GeoRules   `json:"geo_rules" gorm:"type:jsonb"`
	ExpireAt       *time.Time `json:"expire_at" gorm:"index"`
	ExpirationURL  string     `json:"expiration_url" gorm:"type:text"`
	ClickCount     int64      `json:"click_count" gorm:"not null;default:0"`
	MaxClicks      int64      `json:"max_clicks" gorm:"not null;default:0"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName keeps the model on the CRUD layer's links table.
func (LinkPolicy) TableName() string { return "links" }

// Exhausted reports whether the link's quota or deadline has been reached.
// Exhaustion is monotonic: once true it stays true for every later call.
func (p *LinkPolicy) Exhausted(now time.Time) bool {
	if p.ExpireAt != nil && !now.Before(*p.ExpireAt) {
		return true
	}
	return p.MaxClicks > 0 && p.ClickCount >= p.MaxClicks
}

// PolicySnapshot is an immutable copy of a LinkPolicy taken at lookup time.
// Resolution works exclusively on snapshots so concurrent counter updates
// never race with an in-flight decision.
type PolicySnapshot struct {
	LinkPolicy
	TakenAt time.Time `json:"taken_at"`
}

// Snapshot returns a copy-on-read snapshot of the policy.
func (p *LinkPolicy) Snapshot(now time.Time) PolicySnapshot {
	snap := PolicySnapshot{LinkPolicy: *p, TakenAt: now}
	if len(p.GeoRules) > 0 {
		snap.GeoRules = make(GeoRules, len(p.GeoRules))
		copy(snap.GeoRules, p.GeoRules)
	}
	if p.ExpireAt != nil {
		t := *p.ExpireAt
		snap.ExpireAt = &t
	}
	return snap
}

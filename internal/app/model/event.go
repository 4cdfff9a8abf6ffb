package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventType classifies how a hit reached the link.
type EventType string

const (
	EventTypeClick  EventType = "click"
	EventTypeScan   EventType = "scan"
	EventTypeDirect EventType = "direct"
	EventTypeAPI    EventType = "api"
	EventTypeBot    EventType = "bot"
)

// UnknownValue is stored when a facet could not be classified. Facet columns
// are never empty strings so breakdowns always have a bucket to land in.
const UnknownValue = "unknown"

// Metadata is a free-form jsonb payload attached to an event.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
}

// AnalyticsEvent is one enriched hit. Rows are append-only: nothing updates
// them after insert except the soft-delete flag set by a workspace purge.
type AnalyticsEvent struct {
	ID          string         `json:"id" gorm:"primaryKey;size:26"`
	LinkID      string         `json:"link_id" gorm:"size:36;index"`
	ProjectID   string         `json:"project_id" gorm:"size:36;index"`
	WorkspaceID string         `json:"workspace_id" gorm:"size:36;index"`
	EventType   EventType      `json:"event_type" gorm:"size:12;index"`
	Device      string         `json:"device" gorm:"size:64;not null;default:unknown"`
	OS          string         `json:"os" gorm:"size:64;not null;default:unknown"`
	Browser     string         `json:"browser" gorm:"size:64;not null;default:unknown"`
	Language    string         `json:"language" gorm:"size:16;not null;default:unknown"`
	Referer     string         `json:"referer" gorm:"size:255;not null;default:direct"`
	Country     string         `json:"country" gorm:"size:64"`
	City        string         `json:"city" gorm:"size:128"`
	Continent   string         `json:"continent" gorm:"size:32"`
	Lat         *float64       `json:"lat"`
	Lon         *float64       `json:"lon"`
	IsBot       bool           `json:"is_bot" gorm:"index"`
	IPHash      string         `json:"ip_hash" gorm:"size:64"`
	UserAgent   string         `json:"user_agent" gorm:"type:text"`
	OccurredAt  time.Time      `json:"occurred_at" gorm:"index"`
	Metadata    Metadata       `json:"metadata" gorm:"type:jsonb"`
	UTMSource   string         `json:"utm_source" gorm:"size:190"`
	UTMMedium   string         `json:"utm_medium" gorm:"size:190"`
	UTMCampaign string         `json:"utm_campaign" gorm:"size:190"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName pins the events table name.
func (AnalyticsEvent) TableName() string { return "analytics_events" }

// Countable reports whether the event participates in top-line click/scan
// totals. Bot traffic is retained but excluded unless explicitly filtered in.
func (e *AnalyticsEvent) Countable() bool {
	return !e.IsBot && (e.EventType == EventTypeClick || e.EventType == EventTypeScan)
}

// JetStream wiring for the ingestion pipeline.
const (
	EventStreamName     = "ANALYTICS"
	EventStreamSubject  = "analytics.events"
	EventConsumerName   = "event-ingestor"
	EventStreamMaxBytes = 1024 * 1024 * 256 // 256MB

	// EventMaxDeliver bounds redelivery of a failing event before it is
	// dropped; the redirect it came from has already been served.
	EventMaxDeliver = 5
)

// EventAckWait is how long the broker waits for an ack before redelivering.
const EventAckWait = 30 * time.Second

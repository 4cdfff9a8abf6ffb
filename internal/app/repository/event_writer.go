package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IncrementResult reports what one guarded counter advance actually did.
type IncrementResult struct {
	// Counted is false when the link is unknown or its quota was already
	// reached. The counter never moves past MaxClicks.
	Counted   bool
	NewCount  int64
	MaxClicks int64
	Slug      string
	Domain    string
}

// Exhausting reports whether this increment consumed the link's last
// allowed click.
func (r IncrementResult) Exhausting() bool {
	return r.Counted && r.MaxClicks > 0 && r.NewCount >= r.MaxClicks
}

// ApplyResult describes the durable effect of one event delivery.
type ApplyResult struct {
	// Inserted is false when the event row already existed, which is how a
	// redelivered message surfaces here.
	Inserted bool
	Counter  IncrementResult
}

// EventWriter applies an event's durable effects: append the row and, for
// countable events, advance the link's click counter. Both run in one
// transaction keyed on the event ULID, so a redelivered message is a
// complete no-op and each event moves the counter at most once.
type EventWriter interface {
	Apply(ctx context.Context, event *model.AnalyticsEvent, countable bool) (ApplyResult, error)
}

type pgxEventWriter struct {
	pool *pgxpool.Pool
}

// NewEventWriter returns a pgx-backed EventWriter. The write path bypasses
// the ORM: this is the correctness-critical transaction of the pipeline and
// the SQL must be exactly what runs.
func NewEventWriter(pool *pgxpool.Pool) EventWriter {
	return &pgxEventWriter{pool: pool}
}

const insertEventSQL = `
INSERT INTO analytics_events (
	id, link_id, project_id, workspace_id, event_type,
	device, os, browser, language, referer,
	country, city, continent, lat, lon,
	is_bot, ip_hash, user_agent, occurred_at, metadata,
	utm_source, utm_medium, utm_campaign
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
	$21, $22, $23
)
ON CONFLICT (id) DO NOTHING`

// The WHERE guard makes the increment atomic with its quota check. No rows
// updated means the quota was already consumed or the link is gone.
const incrementSQL = `
UPDATE links
SET click_count = click_count + 1, updated_at = now()
WHERE id = $1 AND (max_clicks = 0 OR click_count < max_clicks)
RETURNING click_count, max_clicks, slug, domain_id`

func (w *pgxEventWriter) Apply(ctx context.Context, event *model.AnalyticsEvent, countable bool) (ApplyResult, error) {
	var res ApplyResult

	metadata, err := event.Metadata.Value()
	if err != nil {
		return res, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin event transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertEventSQL,
		event.ID, event.LinkID, event.ProjectID, event.WorkspaceID, event.EventType,
		event.Device, event.OS, event.Browser, event.Language, event.Referer,
		event.Country, event.City, event.Continent, event.Lat, event.Lon,
		event.IsBot, event.IPHash, event.UserAgent, event.OccurredAt, metadata,
		event.UTMSource, event.UTMMedium, event.UTMCampaign,
	)
	if err != nil {
		return res, fmt.Errorf("append event: %w", err)
	}
	res.Inserted = tag.RowsAffected() > 0

	if res.Inserted && countable {
		row := tx.QueryRow(ctx, incrementSQL, event.LinkID)
		err := row.Scan(&res.Counter.NewCount, &res.Counter.MaxClicks, &res.Counter.Slug, &res.Counter.Domain)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Quota already consumed or link deleted since the redirect.
		case err != nil:
			return ApplyResult{}, fmt.Errorf("advance click counter: %w", err)
		default:
			res.Counter.Counted = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit event transaction: %w", err)
	}
	return res, nil
}

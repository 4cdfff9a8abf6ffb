package repository

import (
	"context"
	"time"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"gorm.io/gorm"
)

// WindowQuery scopes an event fetch to a workspace and optional link/project
// within a time window. A zero From means unbounded.
type WindowQuery struct {
	WorkspaceID string
	ProjectID   string
	LinkID      string
	From        time.Time
	Until       time.Time
}

// EventRepository is the read and retention side of the event store. Writes
// go through EventWriter so the row append and the click counter stay in one
// transaction.
type EventRepository interface {
	Window(ctx context.Context, q WindowQuery) ([]model.AnalyticsEvent, error)
	SoftDeleteWorkspace(ctx context.Context, workspaceID string) (int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns a GORM-backed EventRepository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Window fetches the scoped slice ordered by occurrence. One query per
// aggregation keeps the result a consistent snapshot even while ingestion
// keeps appending.
func (r *eventRepository) Window(ctx context.Context, q WindowQuery) ([]model.AnalyticsEvent, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.AnalyticsEvent{}).
		Where("workspace_id = ?", q.WorkspaceID)

	if q.ProjectID != "" {
		tx = tx.Where("project_id = ?", q.ProjectID)
	}
	if q.LinkID != "" {
		tx = tx.Where("link_id = ?", q.LinkID)
	}
	if !q.From.IsZero() {
		tx = tx.Where("occurred_at >= ?", q.From)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("occurred_at <= ?", q.Until)
	}

	var events []model.AnalyticsEvent
	if err := tx.Order("occurred_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SoftDeleteWorkspace flags every event of a workspace as deleted. Rows are
// kept; the soft-delete flag is the only mutation events ever receive.
func (r *eventRepository) SoftDeleteWorkspace(ctx context.Context, workspaceID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Delete(&model.AnalyticsEvent{})
	return result.RowsAffected, result.Error
}

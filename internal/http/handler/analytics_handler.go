package handler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/service"
)

// reservedQueryKeys are the non-filter parameters of the events endpoints;
// every other key must name a known dimension or the request is rejected.
var reservedQueryKeys = map[string]struct{}{
	"period":      {},
	"workspaceId": {},
	"projectId":   {},
	"linkId":      {},
	"page":        {},
	"pageSize":    {},
	"format":      {},
}

// AnalyticsDeps groups dependencies for the dashboard-facing API.
type AnalyticsDeps struct {
	Logger     *zap.Logger
	Aggregator *service.Aggregator
	Events     repository.EventRepository
	Catalog    *service.Catalog
}

// AnalyticsHandler exposes the aggregation, export and maintenance
// endpoints consumed by dashboards and the CRUD layer.
type AnalyticsHandler struct {
	logger     *zap.Logger
	aggregator *service.Aggregator
	events     repository.EventRepository
	catalog    *service.Catalog
}

// NewAnalyticsHandler creates the handler with the provided dependencies.
func NewAnalyticsHandler(deps AnalyticsDeps) *AnalyticsHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsHandler{
		logger:     logger,
		aggregator: deps.Aggregator,
		events:     deps.Events,
		catalog:    deps.Catalog,
	}
}

// Register wires API routes onto the provided router.
func (h *AnalyticsHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		api.Get("/events", h.QueryEvents)
		api.Get("/events/export", h.ExportEvents)
		api.Post("/links/invalidate", h.InvalidatePolicy)
		api.Delete("/workspaces/:id/events", h.PurgeWorkspace)
	}
}

// QueryEvents handles GET /api/events and returns the full aggregation.
func (h *AnalyticsHandler) QueryEvents(c *fiber.Ctx) error {
	query, err := h.parseQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	agg, err := h.aggregator.Aggregate(c.UserContext(), query)
	if err != nil {
		h.logger.Error("aggregation failed",
			zap.String("workspace_id", query.WorkspaceID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute aggregation",
		})
	}
	return c.JSON(agg)
}

// ExportEvents handles GET /api/events/export, serializing the same
// filtered slice the aggregation sees as CSV or JSON.
func (h *AnalyticsHandler) ExportEvents(c *fiber.Ctx) error {
	query, err := h.parseQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	events, err := h.aggregator.FilteredEvents(c.UserContext(), query)
	if err != nil {
		h.logger.Error("export failed",
			zap.String("workspace_id", query.WorkspaceID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to export events",
		})
	}

	format := c.Query("format", "json")
	switch format {
	case "json":
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="events.json"`)
		return c.JSON(events)
	case "csv":
		payload, err := renderCSV(events)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to serialize events",
			})
		}
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="events.csv"`)
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		return c.Send(payload)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "format must be csv or json",
		})
	}
}

// InvalidatePolicy handles POST /api/links/invalidate. The CRUD layer calls
// it after editing a link so the redirect path stops serving the stale
// snapshot before the TTL runs out.
func (h *AnalyticsHandler) InvalidatePolicy(c *fiber.Ctx) error {
	var req struct {
		Slug   string `json:"slug"`
		Domain string `json:"domain"`
	}
	if err := c.BodyParser(&req); err != nil || req.Slug == "" || req.Domain == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "slug and domain are required",
		})
	}

	if err := h.catalog.Invalidate(c.UserContext(), req.Slug, req.Domain); err != nil {
		h.logger.Error("policy invalidation failed",
			zap.String("slug", req.Slug), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to invalidate policy",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PurgeWorkspace handles DELETE /api/workspaces/:id/events: soft-delete
// only, rows are never physically removed here.
func (h *AnalyticsHandler) PurgeWorkspace(c *fiber.Ctx) error {
	workspaceID := c.Params("id")
	if workspaceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "workspace id is required",
		})
	}

	purged, err := h.events.SoftDeleteWorkspace(c.UserContext(), workspaceID)
	if err != nil {
		h.logger.Error("workspace purge failed",
			zap.String("workspace_id", workspaceID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to purge workspace events",
		})
	}
	return c.JSON(fiber.Map{"purged": purged})
}

func (h *AnalyticsHandler) parseQuery(c *fiber.Ctx) (model.AggregationQuery, error) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		return model.AggregationQuery{}, errors.New("workspaceId is required")
	}

	interval := model.Interval24H
	if raw := c.Query("period"); raw != "" {
		parsed, err := model.ParseInterval(raw)
		if err != nil {
			return model.AggregationQuery{}, err
		}
		interval = parsed
	}

	filters, err := model.ParseFilters(collectFilterParams(c))
	if err != nil {
		return model.AggregationQuery{}, err
	}

	return model.AggregationQuery{
		WorkspaceID: workspaceID,
		ProjectID:   c.Query("projectId"),
		LinkID:      c.Query("linkId"),
		Interval:    interval,
		Filters:     filters,
		Page:        parseIntDefault(c.Query("page"), 1),
		PageSize:    parseIntDefault(c.Query("pageSize"), 0),
	}, nil
}

// collectFilterParams gathers every non-reserved query key. Values may be
// comma-separated or repeated; both forms OR together.
func collectFilterParams(c *fiber.Ctx) map[string][]string {
	raw := make(map[string][]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		if _, reserved := reservedQueryKeys[k]; reserved {
			return
		}
		for _, v := range strings.Split(string(value), ",") {
			if v = strings.TrimSpace(v); v != "" {
				raw[k] = append(raw[k], v)
			}
		}
	})
	return raw
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

var csvHeader = []string{
	"id", "link_id", "project_id", "workspace_id", "event_type",
	"device", "os", "browser", "language", "referer",
	"country", "city", "continent", "is_bot",
	"utm_source", "utm_medium", "utm_campaign", "occurred_at",
}

func renderCSV(events []model.AnalyticsEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i := range events {
		e := &events[i]
		record := []string{
			e.ID, e.LinkID, e.ProjectID, e.WorkspaceID, string(e.EventType),
			e.Device, e.OS, e.Browser, e.Language, e.Referer,
			e.Country, e.City, e.Continent, strconv.FormatBool(e.IsBot),
			e.UTMSource, e.UTMMedium, e.UTMCampaign,
			e.OccurredAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

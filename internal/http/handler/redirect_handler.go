package handler

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/service"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/http/view"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
)

// RedirectDeps groups dependencies required by the redirect path.
type RedirectDeps struct {
	Logger    *zap.Logger
	Catalog   *service.Catalog
	Geo       service.GeoLookup
	Enricher  *service.Enricher
	Publisher *service.EventPublisher
}

// RedirectHandler serves the visitor-facing hot path: policy lookup,
// resolution and the redirect itself. Event emission is fire-and-forget so
// response latency never depends on the analytics write path.
type RedirectHandler struct {
	logger    *zap.Logger
	catalog   *service.Catalog
	geo       service.GeoLookup
	enricher  *service.Enricher
	publisher *service.EventPublisher
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:    logger,
		catalog:   deps.Catalog,
		geo:       deps.Geo,
		enricher:  deps.Enricher,
		publisher: deps.Publisher,
	}
}

// Register wires redirect routes onto the provided router.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/:slug", h.Resolve)
}

// Health is a simple endpoint so we know the service is running.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "url-analytics",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolve handles GET /:slug: look up the policy snapshot, decide the
// destination and answer before any persistence is attempted.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return h.errorPage(c, fiber.StatusNotFound, view.NotFoundPage)
	}
	domain := c.Hostname()

	ctx := c.UserContext()
	snap, err := h.catalog.Get(ctx, slug, domain)
	if err != nil {
		if errors.Is(err, repository.ErrPolicyNotFound) {
			prometheus.RedirectsTotal.WithLabelValues("not_found").Inc()
			return h.errorPage(c, fiber.StatusNotFound, view.NotFoundPage)
		}
		h.logger.Error("failed to load link policy",
			zap.String("slug", slug), zap.String("domain", domain), zap.Error(err))
		prometheus.RedirectsTotal.WithLabelValues("error").Inc()
		return h.errorPage(c, fiber.StatusInternalServerError, view.InternalPage)
	}

	rctx := service.RequestContext{Timestamp: time.Now().UTC()}
	ip := c.IP()
	if h.geo != nil && ip != "" {
		if loc, err := h.geo.City(ip); err == nil {
			rctx.CountryCode = loc.CountryCode
			rctx.ContinentCode = loc.ContinentCode
		}
	}

	res, err := service.Resolve(snap, rctx)
	if err != nil {
		// Malformed policy: log loudly, show the generic page, expose nothing.
		h.logger.Error("invalid link policy",
			zap.String("link_id", snap.ID), zap.Error(err))
		prometheus.RedirectsTotal.WithLabelValues("invalid_policy").Inc()
		return h.errorPage(c, fiber.StatusInternalServerError, view.InternalPage)
	}

	if res.Outcome == service.OutcomeBlocked {
		prometheus.RedirectsTotal.WithLabelValues("blocked").Inc()
		return h.errorPage(c, fiber.StatusGone, view.GonePage)
	}

	if res.Record && h.publisher != nil {
		hit := h.captureHit(c, &snap, res)
		go h.emit(hit)
	}

	prometheus.RedirectsTotal.WithLabelValues(string(res.Outcome)).Inc()
	h.logger.Debug("redirecting short link",
		zap.String("slug", slug),
		zap.String("outcome", string(res.Outcome)),
		zap.String("target", res.Destination))
	return c.Redirect(res.Destination, fiber.StatusFound)
}

// captureHit copies request values out of the fiber context; the context is
// recycled once the handler returns and must not leak into the goroutine.
func (h *RedirectHandler) captureHit(c *fiber.Ctx, snap *model.PolicySnapshot, res service.Resolution) service.RawHit {
	eventType := res.EventType
	if eventType == model.EventTypeClick && c.Query("qr") != "" {
		eventType = model.EventTypeScan
	}

	query := url.Values{}
	for _, key := range []string{"utm_source", "utm_medium", "utm_campaign", "qr"} {
		if v := c.Query(key); v != "" {
			query.Set(key, v)
		}
	}

	return service.RawHit{
		LinkID:         snap.ID,
		ProjectID:      snap.ProjectID,
		WorkspaceID:    snap.WorkspaceID,
		EventType:      eventType,
		IP:             c.IP(),
		UserAgent:      c.Get(fiber.HeaderUserAgent),
		Referer:        c.Get(fiber.HeaderReferer),
		AcceptLanguage: c.Get(fiber.HeaderAcceptLanguage),
		AcceptHeader:   c.Get(fiber.HeaderAccept),
		Query:          query,
		Metadata:       model.Metadata{"outcome": string(res.Outcome)},
		OccurredAt:     time.Now().UTC(),
	}
}

func (h *RedirectHandler) emit(hit service.RawHit) {
	event := h.enricher.Enrich(hit)
	if err := h.publisher.Publish(&event); err != nil {
		h.logger.Error("failed to publish analytics event",
			zap.String("link_id", hit.LinkID), zap.Error(err))
	}
}

func (h *RedirectHandler) errorPage(c *fiber.Ctx, status int, data view.ErrorPageData) error {
	html, err := view.RenderErrorPage(data)
	if err != nil {
		h.logger.Error("failed to render error page", zap.Error(err))
		return c.Status(status).SendString(data.Title)
	}
	return c.Status(status).Type("html", "utf-8").SendString(html)
}

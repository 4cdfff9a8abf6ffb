package service

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/mssola/user_agent"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/geoip"
)

// GeoLookup resolves an IP address to a location. A nil lookup (or a failed
// one) degrades the event instead of dropping it.
type GeoLookup interface {
	City(ip string) (geoip.Location, error)
}

// RawHit is the request context captured on the redirect path before the
// response is written. It carries values, not the live request, so
// enrichment can run after the handler returns.
type RawHit struct {
	LinkID      string
	ProjectID   string
	WorkspaceID string
	EventType   model.EventType

	IP             string
	UserAgent      string
	Referer        string
	AcceptLanguage string
	AcceptHeader   string
	Query          url.Values
	Metadata       model.Metadata
	OccurredAt     time.Time
}

// Enricher normalizes raw hits into analytics events: UA classification,
// bot tagging, salted IP hashing and geo resolution.
type Enricher struct {
	geo    GeoLookup
	salt   []byte
	logger *zap.Logger
}

// NewEnricher builds an enricher. geo may be nil.
func NewEnricher(geo GeoLookup, salt string, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{geo: geo, salt: []byte(salt), logger: logger}
}

// crawlerMarkers catches bots that ship a browser-looking UA. The library
// flag handles the well-behaved ones.
var crawlerMarkers = []string{
	"bot", "crawler", "spider", "slurp", "curl/", "wget/",
	"facebookexternalhit", "whatsapp", "telegrambot", "headlesschrome",
}

// Enrich never fails: lookup errors degrade individual fields and the event
// still flows.
func (e *Enricher) Enrich(hit RawHit) model.AnalyticsEvent {
	event := model.AnalyticsEvent{
		ID:          ulid.Make().String(),
		LinkID:      hit.LinkID,
		ProjectID:   hit.ProjectID,
		WorkspaceID: hit.WorkspaceID,
		EventType:   hit.EventType,
		Device:      model.UnknownValue,
		OS:          model.UnknownValue,
		Browser:     model.UnknownValue,
		Language:    parseLanguage(hit.AcceptLanguage),
		Referer:     normalizeReferer(hit.Referer),
		UserAgent:   hit.UserAgent,
		Metadata:    hit.Metadata,
		OccurredAt:  hit.OccurredAt,
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if hit.UserAgent != "" {
		ua := user_agent.New(hit.UserAgent)
		if name, _ := ua.Browser(); name != "" {
			event.Browser = name
		}
		if osName := ua.OSInfo().Name; osName != "" {
			event.OS = osName
		}
		if ua.Mobile() {
			event.Device = "mobile"
		} else if !ua.Bot() {
			event.Device = "desktop"
		}
		event.IsBot = ua.Bot() || looksLikeCrawler(hit.UserAgent)
	}
	// A client that sends no Accept header at all is almost never a browser.
	if hit.UserAgent == "" || hit.AcceptHeader == "" {
		event.IsBot = true
	}
	if event.IsBot && (event.EventType == model.EventTypeClick || event.EventType == model.EventTypeScan) {
		event.EventType = model.EventTypeBot
	}

	event.IPHash = e.hashIP(hit.IP)
	e.applyGeo(&event, hit.IP)
	e.applyUTM(&event, hit.Query)

	return event
}

func (e *Enricher) applyGeo(event *model.AnalyticsEvent, ip string) {
	if e.geo == nil || ip == "" {
		return
	}
	loc, err := e.geo.City(ip)
	if err != nil {
		e.logger.Warn("geo enrichment degraded", zap.Error(err))
		return
	}
	event.Country = strings.ToUpper(loc.CountryCode)
	event.City = loc.City
	event.Continent = strings.ToUpper(loc.ContinentCode)
	event.Lat = loc.Lat
	event.Lon = loc.Lon
}

func (e *Enricher) applyUTM(event *model.AnalyticsEvent, query url.Values) {
	if query == nil {
		return
	}
	event.UTMSource = query.Get("utm_source")
	event.UTMMedium = query.Get("utm_medium")
	event.UTMCampaign = query.Get("utm_campaign")
}

// hashIP produces the salted one-way digest stored instead of the raw IP.
func (e *Enricher) hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	h := sha256.New()
	h.Write(e.salt)
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

func looksLikeCrawler(userAgent string) bool {
	lowered := strings.ToLower(userAgent)
	for _, marker := range crawlerMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// parseLanguage keeps the primary subtag of the preferred Accept-Language
// entry ("fr-FR,fr;q=0.9" -> "fr").
func parseLanguage(header string) string {
	if header == "" {
		return model.UnknownValue
	}
	first := header
	if idx := strings.IndexAny(first, ",;"); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.Index(first, "-"); idx >= 0 {
		first = first[:idx]
	}
	first = strings.ToLower(strings.TrimSpace(first))
	if first == "" || first == "*" {
		return model.UnknownValue
	}
	return first
}

// normalizeReferer keeps only the referring host; empty means a direct hit.
func normalizeReferer(referer string) string {
	if referer == "" {
		return "direct"
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return referer
	}
	return strings.TrimPrefix(u.Host, "www.")
}

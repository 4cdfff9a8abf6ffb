package handler

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/service"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/geoip"
)

type stubLinkRepository struct {
	policies map[string]*model.LinkPolicy
}

func (s *stubLinkRepository) GetBySlug(ctx context.Context, slug, domain string) (*model.LinkPolicy, error) {
	p, ok := s.policies[repository.SlugKey(slug, domain)]
	if !ok {
		return nil, repository.ErrPolicyNotFound
	}
	return p, nil
}

func (s *stubLinkRepository) GetByID(ctx context.Context, id string) (*model.LinkPolicy, error) {
	return nil, repository.ErrPolicyNotFound
}

func (s *stubLinkRepository) ListSlugKeys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.policies))
	for k := range s.policies {
		keys = append(keys, k)
	}
	return keys, nil
}

type stubGeo struct {
	loc geoip.Location
}

func (s *stubGeo) City(ip string) (geoip.Location, error) { return s.loc, nil }

func newRedirectApp(t *testing.T, policies []*model.LinkPolicy, geo service.GeoLookup) *fiber.App {
	t.Helper()
	repo := &stubLinkRepository{policies: make(map[string]*model.LinkPolicy)}
	for _, p := range policies {
		repo.policies[repository.SlugKey(p.Slug, p.DomainID)] = p
	}

	h := NewRedirectHandler(RedirectDeps{
		Catalog: service.NewCatalog(service.CatalogDeps{Links: repo}),
		Geo:     geo,
	})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.Register(app)
	return app
}

func redirectPolicy() *model.LinkPolicy {
	return &model.LinkPolicy{
		ID:             "link-1",
		Slug:           "promo",
		DomainID:       "go.example.com",
		WorkspaceID:    "ws-1",
		ProjectID:      "proj-1",
		DestinationURL: "https://example.com/landing",
		Status:         model.LinkStatusActive,
	}
}

func TestRedirect_Found(t *testing.T) {
	app := newRedirectApp(t, []*model.LinkPolicy{redirectPolicy()}, nil)

	req := httptest.NewRequest("GET", "http://go.example.com/promo", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/landing" {
		t.Fatalf("unexpected location %s", loc)
	}
}

func TestRedirect_UnknownSlugIs404(t *testing.T) {
	app := newRedirectApp(t, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/nope", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRedirect_DomainScopesSlug(t *testing.T) {
	app := newRedirectApp(t, []*model.LinkPolicy{redirectPolicy()}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://other.example.com/promo", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("same slug on another domain must miss, got %d", resp.StatusCode)
	}
}

func TestRedirect_GeoOverride(t *testing.T) {
	p := redirectPolicy()
	p.GeoRules = model.GeoRules{
		{Priority: 0, Scope: model.GeoScopeCountry, Target: "FR", URL: "https://example.com/fr"},
	}
	app := newRedirectApp(t, []*model.LinkPolicy{p}, &stubGeo{loc: geoip.Location{CountryCode: "FR", ContinentCode: "EU"}})

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/promo", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/fr" {
		t.Fatalf("expected the geo destination, got %s", loc)
	}
}

func TestRedirect_ArchivedIsGone(t *testing.T) {
	p := redirectPolicy()
	p.Status = model.LinkStatusArchived
	app := newRedirectApp(t, []*model.LinkPolicy{p}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/promo", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
}

func TestRedirect_ExhaustedFallsBack(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	p := redirectPolicy()
	p.ExpireAt = &past
	p.FallbackURL = "https://example.com/after"
	app := newRedirectApp(t, []*model.LinkPolicy{p}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/promo", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com/after" {
		t.Fatalf("expected the fallback destination, got %s", loc)
	}
}

func TestRedirect_InvalidPolicyHidesDetails(t *testing.T) {
	p := redirectPolicy()
	p.DestinationURL = ""
	app := newRedirectApp(t, []*model.LinkPolicy{p}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/promo", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newRedirectApp(t, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "http://go.example.com/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

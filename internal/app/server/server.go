package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/service"
	inthttp "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/http/handler"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/http/middleware"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/realtime"
)

// Dependencies bundles everything the HTTP server wires together.
type Dependencies struct {
	Logger     *zap.Logger
	Redis      *redis.Client
	Catalog    *service.Catalog
	Geo        service.GeoLookup
	Enricher   *service.Enricher
	Publisher  *service.EventPublisher
	Aggregator *service.Aggregator
	Events     repository.EventRepository
	Hub        *realtime.Hub
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server with middleware and routes registered.
func New(deps Dependencies) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS())

	if s.deps.Redis != nil {
		s.app.Use(middleware.RateLimit(s.deps.Redis, middleware.DefaultRateLimitConfig(), s.deps.Logger))
	}
}

func (s *Server) registerRoutes() {
	realtimeHandler := inthttp.NewRealtimeHandler(inthttp.RealtimeDeps{
		Logger: s.deps.Logger,
		Hub:    s.deps.Hub,
	})
	realtimeHandler.Register(s.app)

	analyticsHandler := inthttp.NewAnalyticsHandler(inthttp.AnalyticsDeps{
		Logger:     s.deps.Logger,
		Aggregator: s.deps.Aggregator,
		Events:     s.deps.Events,
		Catalog:    s.deps.Catalog,
	})
	analyticsHandler.Register(s.app)

	// The slug catch-all registers last so API routes keep precedence.
	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:    s.deps.Logger,
		Catalog:   s.deps.Catalog,
		Geo:       s.deps.Geo,
		Enricher:  s.deps.Enricher,
		Publisher: s.deps.Publisher,
	})
	redirectHandler.Register(s.app)
}

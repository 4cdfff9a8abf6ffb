package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/config"
	appmodel "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	apprepository "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/repository"
	appserver "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/server"
	appservice "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/service"
	infraGeoIP "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/geoip"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/logger"
	infraNATS "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/nats"
	infraPostgres "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/postgres"
	infraPrometheus "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
	infraRedis "github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/redis"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/realtime"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
		zap.String("geoip_db", cfg.Geo.DBPath),
		zap.String("addr", cfg.Server.Addr),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB,
		&appmodel.LinkPolicy{}, &appmodel.AnalyticsEvent{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	log.Info("Connected to NATS", zap.Bool("jetstream_ready", js != nil))

	var geoReader appservice.GeoLookup
	if cfg.Geo.DBPath != "" {
		reader, err := infraGeoIP.Open(cfg.Geo.DBPath)
		if err != nil {
			log.Warn("GeoIP database unavailable, geo enrichment disabled", zap.Error(err))
		} else {
			defer reader.Close()
			geoReader = reader
		}
	} else {
		log.Warn("No GeoIP database configured, geo enrichment disabled")
	}

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	linkRepo := apprepository.NewLinkRepository(gormDB)
	eventRepo := apprepository.NewEventRepository(gormDB)
	eventWriter := apprepository.NewEventWriter(pool)

	catalog := appservice.NewCatalog(appservice.CatalogDeps{
		Links:       linkRepo,
		Redis:       redisClient,
		Logger:      log,
		TTL:         cfg.Analytics.PolicyCacheTTL,
		NegativeTTL: cfg.Analytics.NegativeCacheTTL,
	})
	if err := catalog.Warm(ctx); err != nil {
		log.Warn("Slug filter warm-up failed, continuing without it", zap.Error(err))
	}

	refresher := appservice.NewCatalogRefresher(log, catalog, 0)
	refresher.Start()
	defer refresher.Stop()

	hub := realtime.NewHub(log, cfg.Realtime.SubscriberBuffer)

	enricher := appservice.NewEnricher(geoReader, cfg.Analytics.IPHashSalt, log)
	publisher := appservice.NewEventPublisher(js)
	ingestor := appservice.NewIngestor(appservice.IngestorDeps{
		Writer:  eventWriter,
		Catalog: catalog,
		Sink:    hub,
		Logger:  log,
	})

	consumer := appservice.NewEventConsumer(js, log, ingestor)
	if err := consumer.Start(); err != nil {
		log.Fatal("Failed to start event consumer", zap.Error(err))
	}
	defer consumer.Stop()

	aggregator := appservice.NewAggregator(appservice.AggregatorDeps{
		Events:  eventRepo,
		Timeout: cfg.Analytics.QueryTimeout,
		Logger:  log,
	})

	srv := appserver.New(appserver.Dependencies{
		Logger:     log,
		Redis:      redisClient,
		Catalog:    catalog,
		Geo:        geoReader,
		Enricher:   enricher,
		Publisher:  publisher,
		Aggregator: aggregator,
		Events:     eventRepo,
		Hub:        hub,
	})

	log.Info("Listening", zap.String("addr", cfg.Server.Addr))
	if err := srv.Listen(cfg.Server.Addr); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CatalogRefresher periodically re-warms the catalog's slug filter so links
// created by the CRUD layer after startup become visible to the redirect
// path without a restart.
type CatalogRefresher struct {
	logger   *zap.Logger
	catalog  *Catalog
	interval time.Duration
	stopChan chan struct{}
}

// NewCatalogRefresher creates a refresher with the given re-warm interval.
func NewCatalogRefresher(logger *zap.Logger, catalog *Catalog, interval time.Duration) *CatalogRefresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CatalogRefresher{
		logger:   logger,
		catalog:  catalog,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic re-warm loop.
func (r *CatalogRefresher) Start() {
	go r.run()
}

// Stop halts the loop.
func (r *CatalogRefresher) Stop() {
	close(r.stopChan)
}

func (r *CatalogRefresher) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.catalog.Warm(context.Background()); err != nil {
				r.logger.Error("slug filter re-warm failed", zap.Error(err))
			}
		case <-r.stopChan:
			r.logger.Info("catalog refresher stopped")
			return
		}
	}
}

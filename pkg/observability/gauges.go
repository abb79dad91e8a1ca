package observability

import (
	"context"
	"database/sql"
	"time"
)

// CountFunc reports the current row count of a business table.
type CountFunc func(context.Context) (int64, error)

// GaugeSampler periodically refreshes the business and connection-pool
// gauges. Counters are updated inline where the work happens; gauges
// describe table sizes and pool state, which only a polling read can
// observe.
type GaugeSampler struct {
	metrics   *Metrics
	logger    *Logger
	db        *sql.DB
	datasets  CountFunc
	documents CountFunc
	interval  time.Duration
}

// NewGaugeSampler creates a sampler refreshing the gauges every interval
func NewGaugeSampler(metrics *Metrics, logger *Logger, db *sql.DB, datasets, documents CountFunc, interval time.Duration) *GaugeSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &GaugeSampler{
		metrics:   metrics,
		logger:    logger,
		db:        db,
		datasets:  datasets,
		documents: documents,
		interval:  interval,
	}
}

// Run samples immediately, then on every tick until the context is
// canceled. A failed count query logs a warning and leaves the gauge at
// its previous value.
func (gs *GaugeSampler) Run(ctx context.Context) {
	gs.sample(ctx)

	ticker := time.NewTicker(gs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gs.sample(ctx)
		}
	}
}

func (gs *GaugeSampler) sample(ctx context.Context) {
	stats := gs.db.Stats()
	gs.metrics.DBConnectionsActive.Set(float64(stats.InUse))
	gs.metrics.DBConnectionsIdle.Set(float64(stats.Idle))

	if count, err := gs.datasets(ctx); err != nil {
		gs.logger.WithError(err).Warn("failed to refresh dataset gauge")
	} else {
		gs.metrics.DatasetsTotal.Set(float64(count))
	}

	if count, err := gs.documents(ctx); err != nil {
		gs.logger.WithError(err).Warn("failed to refresh document gauge")
	} else {
		gs.metrics.DocumentsTotal.Set(float64(count))
	}
}

package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/database"
	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
)

// RefreshJob re-fetches history for every tracked ticker so datasets stay
// warm between tool calls.
type RefreshJob struct {
	svc  *Service
	days int
	log  zerolog.Logger
}

// NewRefreshJob creates a refresh job covering the given trading-day window.
func NewRefreshJob(svc *Service, days int, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{svc: svc, days: days, log: log}
}

// Name returns the job name.
func (j *RefreshJob) Name() string { return "marketdata_refresh" }

// Run refreshes all tracked tickers.
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.svc.RefreshTracked(ctx, j.days)
}

// MaintenanceJob prunes stale rows, expired cache entries and old tool runs,
// then checkpoints the databases so the WAL does not grow unbounded.
type MaintenanceJob struct {
	store     *Store
	cache     *calculations.Cache
	runs      *calculations.RunLog
	dbs       []*database.DB
	retention int // days of price history and run history to keep
	log       zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job. cache, runs and dbs may be
// nil or empty.
func NewMaintenanceJob(store *Store, cache *calculations.Cache, runs *calculations.RunLog, dbs []*database.DB, retentionDays int, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{store: store, cache: cache, runs: runs, dbs: dbs, retention: retentionDays, log: log}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string { return "marketdata_maintenance" }

// Run prunes old price rows, expired calculations and stale run records,
// then performs database housekeeping.
func (j *MaintenanceJob) Run() error {
	if _, err := j.store.PruneOlderThan(j.retention); err != nil {
		return err
	}

	if j.cache != nil {
		if _, err := j.cache.PruneExpired(); err != nil {
			return err
		}
	}

	if j.runs != nil {
		cutoff := time.Now().AddDate(0, 0, -j.retention)
		if _, err := j.runs.PruneRunsBefore(cutoff); err != nil {
			return err
		}
	}

	j.checkpointDatabases()
	return nil
}

// checkpointDatabases truncates each WAL and vacuums databases whose
// freelist has grown past a quarter of their pages. Failures are logged,
// not returned, so one unhealthy database does not stop pruning elsewhere.
func (j *MaintenanceJob) checkpointDatabases() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, db := range j.dbs {
		if db == nil {
			continue
		}

		if err := db.QuickCheck(ctx); err != nil {
			j.log.Warn().Err(err).Str("db", db.Name()).Msg("Skipping maintenance for unreachable database")
			continue
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("db", db.Name()).Msg("WAL checkpoint failed")
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Err(err).Str("db", db.Name()).Msg("Failed to read database stats")
			continue
		}

		j.log.Debug().
			Str("db", db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("freelist", stats.FreelistCount).
			Msg("Database checkpointed")

		if stats.PageCount > 0 && stats.FreelistCount*4 > stats.PageCount {
			if err := db.Vacuum(); err != nil {
				j.log.Warn().Err(err).Str("db", db.Name()).Msg("Vacuum failed")
			}
		}
	}
}

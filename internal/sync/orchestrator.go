// Package sync implements the Sync Orchestrator: the single-writer
// pipeline that pulls each enabled provider's accounts, holdings, and
// activities into one top-level transaction, triggers per-account
// valuation writes, and runs lot reconciliation.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/lots"
	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/repo"
	"github.com/aristath/ledgerfolio/internal/valuation"
)

// ErrSyncInProgress is returned by TriggerSync when another sync already
// holds the process-wide lock.
var ErrSyncInProgress = fmt.Errorf("sync already in progress")

// Orchestrator runs the full sync pipeline under a non-blocking,
// process-wide lock.
type Orchestrator struct {
	db         *sql.DB
	accounts   *repo.AccountRepository
	securities *repo.SecurityRepository
	sessions   *repo.SyncSessionRepository
	snapshots  *repo.SnapshotRepository
	holdings   *repo.HoldingRepository
	activities *repo.ActivityRepository

	registry  *providers.Registry
	valuation *valuation.Engine
	lots      *lots.Engine

	loc  *time.Location
	lock chan struct{}
	log  zerolog.Logger
}

func New(
	db *sql.DB,
	accounts *repo.AccountRepository,
	securities *repo.SecurityRepository,
	sessions *repo.SyncSessionRepository,
	snapshots *repo.SnapshotRepository,
	holdings *repo.HoldingRepository,
	activities *repo.ActivityRepository,
	registry *providers.Registry,
	valuationEngine *valuation.Engine,
	lotsEngine *lots.Engine,
	loc *time.Location,
	log zerolog.Logger,
) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	return &Orchestrator{
		db: db, accounts: accounts, securities: securities, sessions: sessions,
		snapshots: snapshots, holdings: holdings, activities: activities,
		registry: registry, valuation: valuationEngine, lots: lotsEngine,
		loc: loc, lock: make(chan struct{}, 1),
		log: log.With().Str("component", "sync_orchestrator").Logger(),
	}
}

// IsSyncInProgress reports whether the lock is currently held, without
// acquiring it.
func (o *Orchestrator) IsSyncInProgress() bool {
	select {
	case o.lock <- struct{}{}:
		<-o.lock
		return false
	default:
		return true
	}
}

// Report summarizes one TriggerSync call for the HTTP trigger endpoint and
// the scheduler.
type Report struct {
	SessionID string
	Completed bool
	Warnings  []string
}

// TriggerSync runs the full pipeline. It acquires
// the non-blocking lock, best-effort backfills valuation up to yesterday,
// opens one top-level transaction spanning every enabled provider, and
// commits once all providers have run.
func (o *Orchestrator) TriggerSync(ctx context.Context) (Report, error) {
	select {
	case o.lock <- struct{}{}:
	default:
		return Report{}, ErrSyncInProgress
	}
	defer func() { <-o.lock }()

	var report Report

	if _, err := o.valuation.Backfill(ctx); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("pre-sync valuation backfill: %v", err))
	}

	sessionID := uuid.NewString()
	sessionTime := time.Now().UTC()
	report.SessionID = sessionID

	anySynced := false
	anyStale := false

	err := database.WithTransaction(o.db, func(tx *sql.Tx) error {
		if err := o.sessions.Create(tx, &domain.SyncSession{ID: sessionID, Timestamp: sessionTime, IsComplete: false}); err != nil {
			return fmt.Errorf("create sync session: %w", err)
		}

		enabled, err := o.registry.Enabled()
		if err != nil {
			return fmt.Errorf("list enabled providers: %w", err)
		}

		for _, adapter := range enabled {
			synced, stale, err := o.syncProvider(ctx, tx, adapter, sessionID, sessionTime)
			if err != nil {
				o.log.Error().Err(err).Str("provider", adapter.Name()).Msg("provider sync failed")
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", adapter.Name(), err))
				continue
			}
			anySynced = anySynced || synced
			anyStale = anyStale || stale
		}

		isComplete := anySynced || anyStale
		if err := o.sessions.Complete(tx, sessionID, isComplete, nil); err != nil {
			return fmt.Errorf("complete sync session: %w", err)
		}
		report.Completed = isComplete
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("sync transaction: %w", err)
	}
	return report, nil
}

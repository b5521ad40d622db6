// Package scheduler drives the Sync Orchestrator and Portfolio Valuation
// Engine on cron schedules, so the portfolio stays current without anyone
// hitting the manual trigger endpoints.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/sync"
	"github.com/aristath/ledgerfolio/internal/valuation"
)

// Service wraps a cron.Cron instance with the two recurring jobs this
// system needs: a periodic sync trigger and a periodic valuation backfill.
// The backfill also runs best-effort before every sync, but having its own
// cadence keeps DHV current through long stretches with no sync.
type Service struct {
	cron         *cron.Cron
	orchestrator *sync.Orchestrator
	valuation    *valuation.Engine
	log          zerolog.Logger
}

// New creates a scheduler. syncCron and backfillCron are standard 5-field
// cron expressions (internal/config.Config.SyncCron / BackfillCron).
func New(orchestrator *sync.Orchestrator, valuationEngine *valuation.Engine, syncCron, backfillCron string, log zerolog.Logger) (*Service, error) {
	l := log.With().Str("component", "scheduler").Logger()
	c := cron.New()

	s := &Service{cron: c, orchestrator: orchestrator, valuation: valuationEngine, log: l}

	if _, err := c.AddFunc(syncCron, s.runSync); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(backfillCron, s.runBackfill); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running scheduled jobs in the background. Non-blocking.
func (s *Service) Start() { s.cron.Start() }

// Stop waits for running jobs to finish and stops the scheduler.
func (s *Service) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop deadline exceeded, jobs may still be running")
	}
}

func (s *Service) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	report, err := s.orchestrator.TriggerSync(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("scheduled sync did not run")
		return
	}
	s.log.Info().Str("session_id", report.SessionID).Bool("completed", report.Completed).
		Int("warnings", len(report.Warnings)).Msg("scheduled sync finished")
}

func (s *Service) runBackfill() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	result, err := s.valuation.Backfill(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled backfill failed")
		return
	}
	s.log.Info().Int("dates_calculated", result.DatesCalculated).Int("errors", len(result.Errors)).
		Msg("scheduled backfill finished")
}

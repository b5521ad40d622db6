// Command ledgerfolio runs the portfolio aggregator: the Sync Orchestrator,
// Portfolio Valuation Engine, Lot Reconciliation Engine, and Returns Engine,
// behind the HTTP read/trigger surface in internal/server. Startup wires
// every dependency by hand: load config, build a logger, open the database,
// start the HTTP server and scheduler in the background, then block for a
// shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/accountsvc"
	"github.com/aristath/ledgerfolio/internal/assetclass"
	"github.com/aristath/ledgerfolio/internal/config"
	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/lots"
	"github.com/aristath/ledgerfolio/internal/marketdata"
	"github.com/aristath/ledgerfolio/internal/preferences"
	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/reliability"
	"github.com/aristath/ledgerfolio/internal/repo"
	"github.com/aristath/ledgerfolio/internal/returns"
	"github.com/aristath/ledgerfolio/internal/scheduler"
	"github.com/aristath/ledgerfolio/internal/server"
	"github.com/aristath/ledgerfolio/internal/sync"
	"github.com/aristath/ledgerfolio/internal/valuation"
	"github.com/aristath/ledgerfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting ledgerfolio")

	dbPath := cfg.DataDir + "/portfolio.db"
	db, err := database.New(database.Config{Path: dbPath, Profile: database.ProfileLedger})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	conn := db.Conn()
	loc := time.Local

	accountRepo := repo.NewAccountRepository(log)
	securityRepo := repo.NewSecurityRepository(log)
	sessionRepo := repo.NewSyncSessionRepository(log)
	snapshotRepo := repo.NewSnapshotRepository(log)
	holdingRepo := repo.NewHoldingRepository(log)
	activityRepo := repo.NewActivityRepository(log)
	dhvRepo := repo.NewDHVRepository(log)
	lotRepo := repo.NewLotRepository(log)
	disposalRepo := repo.NewDisposalRepository(log)
	assetClassRepo := repo.NewAssetClassRepository(log)
	preferenceRepo := repo.NewPreferenceRepository(log)
	providerRepo := repo.NewProviderRepository(log)

	registry := providers.NewRegistry(conn, providerRepo, log)
	// No concrete provider adapters ship in this repository; a deployment
	// wires its brokerage/bank integrations here via registry.Register.

	marketData := marketdata.NoopProvider{}

	valuationEngine := valuation.New(conn, accountRepo, snapshotRepo, holdingRepo, dhvRepo, securityRepo, marketData, loc, log)
	lotsEngine := lots.New(lotRepo, disposalRepo, activityRepo, holdingRepo, uuid.NewString, loc, log)
	returnsEngine := returns.New(accountRepo, snapshotRepo, dhvRepo, activityRepo, loc, log)

	orchestrator := sync.New(
		conn, accountRepo, securityRepo, sessionRepo, snapshotRepo, holdingRepo, activityRepo,
		registry, valuationEngine, lotsEngine, loc, log,
	)

	accounts := accountsvc.New(conn, accountRepo, snapshotRepo, holdingRepo, dhvRepo, securityRepo, lotRepo, disposalRepo, activityRepo, sessionRepo, log)
	assetClasses := assetclass.New(assetClassRepo, accountRepo, securityRepo, dhvRepo, conn, log)
	prefs := preferences.New(preferenceRepo, conn, log)

	sched, err := scheduler.New(orchestrator, valuationEngine, cfg.SyncCron, cfg.BackfillCron, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build scheduler")
	}
	sched.Start()
	defer sched.Stop(context.Background())

	backupCtx, backupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	backupSvc, err := reliability.New(backupCtx, cfg.S3BackupBucket, cfg.S3BackupRegion, cfg.S3BackupEndpoint, dbPath, cfg.DataDir, log)
	backupCancel()
	if err != nil {
		log.Warn().Err(err).Msg("backup service disabled")
	}
	if backupSvc != nil {
		go runBackupLoop(backupSvc, log)
	}

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Orchestrator: orchestrator,
		Valuation:    valuationEngine,
		Returns:      returnsEngine,
		Accounts:     accounts,
		AssetClasses: assetClasses,
		Preferences:  prefs,
		Providers:    registry,
		Securities:   securityRepo,
		Querier:      conn,
		StartedAt:    time.Now(),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}

// runBackupLoop uploads a fresh backup once a day and rotates old
// archives.
func runBackupLoop(svc *reliability.Service, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if err := svc.CreateAndUploadBackup(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled backup failed")
		} else if err := svc.RotateOldBackups(ctx, 30); err != nil {
			log.Error().Err(err).Msg("backup rotation failed")
		}
		cancel()
	}
}

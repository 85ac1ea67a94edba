// Package main is the entry point for the Spendguard concentration
// compliance service. It loads the rule catalog, wires the evaluation and
// repair pipeline, and serves the HTTP API alongside the background
// compliance monitor.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/procurehq/spendguard/internal/config"
	"github.com/procurehq/spendguard/internal/database"
	"github.com/procurehq/spendguard/internal/modules/audit"
	"github.com/procurehq/spendguard/internal/modules/optimization"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/procurehq/spendguard/internal/modules/validation"
	"github.com/procurehq/spendguard/internal/scheduler"
	"github.com/procurehq/spendguard/internal/server"
	"github.com/procurehq/spendguard/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Opens the config and data databases
// 4. Loads the rule catalog (CSV file or the stored copy)
// 5. Wires the validator, optimizer, and audit store
// 6. Starts the HTTP server, the compliance monitor, and database maintenance
// 7. Waits for a shutdown signal and stops everything gracefully
//
// The service uses a 2-database layout:
// - config.db: rule catalog and rejected catalog rows
// - data.db: immutable optimization run audit trail
func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallback := logger.Default()
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	if err != nil {
		fallback := logger.Default()
		fallback.Fatal().Err(err).Msg("Invalid logging configuration")
	}
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Spendguard")

	configDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/config.db",
		Profile: database.ProfileStandard,
		Name:    "config",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open config database")
	}
	defer configDB.Close()

	// Run records are append-only, so the data database gets the
	// durability-first profile.
	dataDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/data.db",
		Profile: database.ProfileLedger,
		Name:    "data",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open data database")
	}
	defer dataDB.Close()

	rulesRepo := rules.NewRepository(configDB.Conn(), log)
	if err := rulesRepo.Init(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rules repository")
	}

	runStore := audit.NewRunStore(dataDB.Conn(), log)
	if err := runStore.Init(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run store")
	}

	// A CSV path means a fresh catalog load; it replaces the stored copy so
	// the service restarts with the same rules when the path is removed.
	var catalog *rules.Catalog
	if cfg.CatalogPath != "" {
		loaded, loadErrors, err := rules.LoadCSV(cfg.CatalogPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("Failed to load rule catalog")
		}
		if err := rulesRepo.ReplaceCatalog(loaded, loadErrors); err != nil {
			log.Fatal().Err(err).Msg("Failed to store rule catalog")
		}
		catalog = loaded
		log.Info().
			Int("rules", catalog.Len()).
			Int("rejected_rows", len(loadErrors)).
			Str("path", cfg.CatalogPath).
			Msg("Rule catalog loaded from CSV")
	} else {
		stored, err := rulesRepo.LoadCatalog()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load stored rule catalog")
		}
		catalog = stored
		log.Info().Int("rules", catalog.Len()).Msg("Rule catalog loaded from database")
	}

	interpreter := rules.NewInterpreter(cfg.Tunables.WarningBand, log)
	validator := validation.NewValidator(interpreter, log)
	optimizer := optimization.New(validator, optimization.Config{
		MaxIterations:      cfg.Tunables.MaxIterations,
		MaxTransferPerPass: cfg.Tunables.MaxTransferPerPass,
		MinShareEpsilon:    cfg.Tunables.MinShareEpsilon,
		SeedShare:          cfg.Tunables.SeedShare,
		SumEpsilon:         cfg.Tunables.SumEpsilon,
	}, log)

	handler := server.NewHandler(server.HandlerConfig{
		Catalog:         catalog,
		RulesRepo:       rulesRepo,
		Validator:       validator,
		Optimizer:       optimizer,
		RunStore:        runStore,
		Tunables:        cfg.Tunables,
		HighRiskDefault: cfg.HighRiskDefault,
		ConfigDB:        configDB,
		DataDB:          dataDB,
		Log:             log,
	})

	srv := server.New(server.Config{
		Log:     log,
		Handler: handler,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Background compliance monitor: revalidates recent runs against the
	// current catalog on the configured cron schedule.
	sched := scheduler.New(log)
	monitor := scheduler.NewComplianceMonitorJob(
		runStore,
		catalog,
		validator,
		time.Duration(cfg.MonitorWindow)*time.Hour,
		log,
	)
	if err := sched.AddJob(cfg.MonitorSchedule, monitor); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.MonitorSchedule).Msg("Failed to schedule compliance monitor")
	}

	// Off-peak sqlite upkeep: WAL truncation and vacuum for both databases.
	maintenance := scheduler.NewDatabaseMaintenanceJob([]*database.DB{configDB, dataDB}, log)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenance); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.MaintenanceSchedule).Msg("Failed to schedule database maintenance")
	}

	sched.Start()
	log.Info().Str("schedule", cfg.MonitorSchedule).Msg("Compliance monitor scheduled")
	log.Info().Str("schedule", cfg.MaintenanceSchedule).Msg("Database maintenance scheduled")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()
	log.Info().Msg("Compliance monitor stopped")

	// Give in-flight requests up to 10 seconds to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

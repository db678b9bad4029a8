package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/wheel-trader/internal/clients/tradier"
	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/database"
	"github.com/aristath/wheel-trader/internal/events"
	"github.com/aristath/wheel-trader/internal/modules/artifact"
	"github.com/aristath/wheel-trader/internal/modules/freeze"
	"github.com/aristath/wheel-trader/internal/modules/ledger"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/modules/universe"
	"github.com/aristath/wheel-trader/internal/pipeline"
	"github.com/aristath/wheel-trader/internal/scheduler"
	"github.com/aristath/wheel-trader/internal/server"
	"github.com/aristath/wheel-trader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("run_mode", string(cfg.RunMode)).
		Str("data_dir", cfg.DataDir).
		Msg("Starting wheel trader")

	eventMgr := events.NewManager(log, 200)

	// The freeze guard runs before anything else touches state. A changed
	// critical config in a non-DRY_RUN mode aborts startup.
	guard := freeze.NewGuard(cfg.DataDir, cfg.FreezeEnabled, log)
	if err := guard.Check(cfg.Critical(), cfg.RunMode); err != nil {
		var blocked *freeze.BlockedError
		if errors.As(err, &blocked) {
			eventMgr.Emit(events.FreezeBlocked, "main", map[string]interface{}{
				"changed_keys": blocked.ChangedKeys,
			})
			log.Fatal().
				Strs("changed_keys", blocked.ChangedKeys).
				Msg("Critical configuration changed since freeze; refusing to start")
		}
		log.Fatal().Err(err).Msg("Freeze check failed")
	}

	client, err := tradier.NewClient(tradier.Config{
		BaseURL:  cfg.TradierBaseURL,
		Token:    cfg.TradierToken,
		CacheDir: cfg.DataDir,
		Log:      log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market data client")
	}

	artifactStore, err := artifact.NewStore(cfg.DataDir, cfg.RunRetention, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize artifact store")
	}

	positionStore, err := lifecycle.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize position store")
	}

	capitalLedger := ledger.New(cfg.DataDir, log)

	db, err := database.New(filepath.Join(cfg.DataDir, "scores.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open score database")
	}
	defer db.Close()

	history, err := universe.NewScoreHistory(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize score history")
	}

	pipe := pipeline.New(pipeline.Options{
		Config:    cfg,
		Provider:  client,
		Store:     artifactStore,
		History:   history,
		Positions: positionStore,
		Events:    eventMgr,
		Log:       log,
	})

	hours := scheduler.NewMarketHoursService(log)
	cooldown := time.Duration(cfg.OpsCooldownSeconds) * time.Second
	evalJob := scheduler.NewEvaluationJob(pipe, hours, eventMgr, cooldown, log)
	posJob := scheduler.NewPositionCheckJob(
		positionStore,
		lifecycle.NewEvaluator(cfg.Exits, log),
		client,
		hours,
		eventMgr,
		cfg.DataDir,
		log,
	)

	sched := scheduler.New(log)
	evalSchedule := fmt.Sprintf("@every %dm", cfg.EvalCadenceMinutes)
	if err := sched.AddJob(evalSchedule, evalJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule evaluation job")
	}
	if err := sched.AddJob("@every 15m", posJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule position check job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Options{
		Config:    cfg,
		Store:     artifactStore,
		Positions: positionStore,
		Ledger:    capitalLedger,
		History:   history,
		Events:    eventMgr,
		Hours:     hours,
		EvalJob:   evalJob,
		PosJob:    posJob,
		Log:       log,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

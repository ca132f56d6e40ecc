package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/platformbuilds/shiftgate/internal/api"
	"github.com/platformbuilds/shiftgate/internal/audit"
	"github.com/platformbuilds/shiftgate/internal/config"
	"github.com/platformbuilds/shiftgate/internal/engine"
	"github.com/platformbuilds/shiftgate/internal/metrics"
	"github.com/platformbuilds/shiftgate/internal/notify"
	"github.com/platformbuilds/shiftgate/internal/route"
	sig "github.com/platformbuilds/shiftgate/internal/signal"
	"github.com/platformbuilds/shiftgate/internal/utils"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [service]",
		Short: "Run the migration plan",
		Long:  "Migrates all configured services in dependency-rank order, or a single\nnamed service when one is given. Exit code 0 on success, 2 on automated\nrollback, 3 on abort, 1 on configuration errors.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := ""
			if len(args) == 1 {
				service = args[0]
			}
			return runMigration(service)
		},
	}
}

func runMigration(service string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting shiftgate",
		slog.String("admin_address", cfg.Server.AdminAddress),
		slog.String("mesh", cfg.Mesh.BaseURL))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	var recorder audit.Recorder = audit.NoopRecorder{}
	if cfg.Audit.Enabled && cfg.Audit.Addr != "" {
		valkey, err := audit.NewValkeyRecorder(audit.ValkeyConfig{
			Addr:         cfg.Audit.Addr,
			Username:     cfg.Audit.Username,
			Password:     cfg.Audit.Password,
			DB:           cfg.Audit.DB,
			DialTimeout:  cfg.Audit.DialTimeout,
			ReadTimeout:  cfg.Audit.ReadTimeout,
			WriteTimeout: cfg.Audit.WriteTimeout,
			MaxRetries:   cfg.Audit.MaxRetries,
			TLS:          cfg.Audit.TLS,
			RunTTL:       cfg.Audit.RunTTL,
		})
		if err != nil {
			logger.Warn("audit store unavailable, falling back to logs", slog.Any("error", err))
		} else {
			recorder = valkey
			defer valkey.Close()
		}
	}

	store := route.NewMeshStore(cfg.Mesh.BaseURL, cfg.Mesh.SplitPath, cfg.Mesh.Timeout)
	source := sig.NewBackendClient(cfg.Metrics.BaseURL, cfg.Metrics.QueryPath, cfg.Metrics.Timeout, cfg.Metrics.MinSamples)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.Fanout{
			notify.NewLogNotifier(logger),
			notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout),
		}
	}

	evaluator := engine.NewEvaluator(source)
	rollback := engine.NewRollbackEngine(
		logger, store, evaluator, notifier, recorder,
		cfg.Migration.PollInterval, cfg.Migration.MaxSetSplitAttempts,
	)
	sequencer := engine.NewStageSequencer(
		logger, store, notifier,
		cfg.Migration.SettleDuration, cfg.Migration.MaxSetSplitAttempts,
	)

	triggers, err := cfg.Migration.TriggerList()
	if err != nil {
		return err
	}
	orchestrator, err := engine.NewOrchestrator(engine.OrchestratorParams{
		Logger:        logger,
		Store:         store,
		Rollback:      rollback,
		Sequencer:     sequencer,
		Notifier:      notifier,
		Recorder:      recorder,
		Services:      cfg.Migration.ServiceList(),
		Triggers:      triggers,
		Stages:        cfg.Migration.Stages,
		WriteAttempts: cfg.Migration.MaxSetSplitAttempts,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminServer := api.NewAdminServer(cfg.Server.AdminAddress, orchestrator, logger)
	go func() {
		logger.Info("admin server listening", slog.String("address", cfg.Server.AdminAddress))
		if err := adminServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server exited", slog.Any("error", err))
			stop()
		}
	}()

	healthServer, err := api.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("health server listening", slog.String("address", healthServer.Address()))
		if serveErr := healthServer.Start(); serveErr != nil {
			logger.Error("health server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	migrateErr := orchestrator.Migrate(ctx, service)
	if migrateErr != nil {
		logger.Error("migration finished with error", slog.Any("error", migrateErr))
	} else {
		logger.Info("migration plan complete")
	}

	healthServer.SetNotServing()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)
	if err := adminServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("admin server shutdown", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("shiftgate stopped")
	return migrateErr
}

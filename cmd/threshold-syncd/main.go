package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/liminalhq/threshold-sync/internal/alarms"
	"github.com/liminalhq/threshold-sync/internal/config"
	"github.com/liminalhq/threshold-sync/internal/database"
	"github.com/liminalhq/threshold-sync/internal/logging"
	"github.com/liminalhq/threshold-sync/internal/scheduler"
	"github.com/liminalhq/threshold-sync/internal/server"
	syncpkg "github.com/liminalhq/threshold-sync/internal/sync"
)

const publishQueueCapacity = 32

func main() {
	configViper := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "threshold-syncd",
		Short:         "Alarm store and companion sync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configViper)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.String("http-address", "", "address for the loopback REST API")
	flags.String("database-path", "", "path to the SQLite database file")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "optional rotated log file path")
	flags.Int("batch-debounce-ms", 0, "batch debounce quiet period in milliseconds")
	flags.Int("tombstone-retention-days", 0, "days to retain deletion tombstones")

	bindFlag(configViper, "http.address", rootCmd, "http-address")
	bindFlag(configViper, "database.path", rootCmd, "database-path")
	bindFlag(configViper, "log.level", rootCmd, "log-level")
	bindFlag(configViper, "log.file", rootCmd, "log-file")
	bindFlag(configViper, "sync.batch_debounce_ms", rootCmd, "batch-debounce-ms")
	bindFlag(configViper, "sync.tombstone_retention_days", rootCmd, "tombstone-retention-days")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "threshold-syncd:", err)
		os.Exit(1)
	}
}

func bindFlag(configViper *viper.Viper, key string, cmd *cobra.Command, flagName string) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		panic(fmt.Sprintf("unknown flag %q", flagName))
	}
	if err := configViper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	store, err := alarms.NewStore(alarms.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	dispatcher := alarms.NewDispatcher()
	triggers := alarms.NewTriggerCalculator(alarms.TriggerCalculatorConfig{})

	coordinator, err := alarms.NewCoordinator(alarms.CoordinatorConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Triggers:   triggers,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sender := newLoggingSender(logger)
	publisher := syncpkg.NewChannelPublisher(publishQueueCapacity, logger)
	consumer, err := syncpkg.NewConsumer(syncpkg.ConsumerConfig{
		Commands: publisher.Commands(),
		Sender:   sender,
		Source:   store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	collector := syncpkg.NewBatchCollector(cfg.BatchDebounce, publisher)

	gateway, err := syncpkg.NewGateway(syncpkg.GatewayConfig{
		Coordinator: coordinator,
		Store:       store,
		Dispatcher:  dispatcher,
		Collector:   collector,
		Publisher:   publisher,
		Sender:      sender,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	bridge, err := scheduler.NewBridge(scheduler.BridgeConfig{
		Dispatcher: dispatcher,
		Scheduler:  scheduler.NewLogScheduler(logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Coordinator: coordinator,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go bridge.Run(runCtx)
	go gateway.Run(runCtx)
	go consumer.Run(runCtx)
	go runTombstoneMaintenance(runCtx, store, cfg, logger)

	healed, err := coordinator.HealOnLaunch(runCtx)
	if err != nil {
		return fmt.Errorf("heal on launch: %w", err)
	}
	logger.Info("launch heal complete", zap.Int("rescheduled", healed))

	if err := coordinator.RequestSync(runCtx, alarms.SyncReasonInitialize); err != nil {
		logger.Warn("initial sync request failed", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", cfg.HTTPAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	cancel()
	publisher.Close()
	logger.Info("threshold-syncd stopped")
	return nil
}

// runTombstoneMaintenance periodically purges expired deletion tombstones.
func runTombstoneMaintenance(ctx context.Context, store *alarms.Store, cfg config.AppConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.CleanupTombstones(ctx, cfg.TombstoneRetentionDays)
			if err != nil {
				logger.Error("tombstone cleanup failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("tombstones purged", zap.Int64("count", purged))
			}
		}
	}
}

// loggingSender records outbound sync payloads. It stands in for the
// platform transport bridge, which is attached per platform at build time.
type loggingSender struct {
	logger *zap.Logger
}

func newLoggingSender(logger *zap.Logger) *loggingSender {
	return &loggingSender{logger: logger}
}

func (s *loggingSender) Send(_ context.Context, payload []byte) error {
	s.logger.Debug("sync message dispatched", zap.Int("bytes", len(payload)))
	return nil
}

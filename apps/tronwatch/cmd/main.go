package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"tronwatch/apps/tronwatch/internal/api"
	"tronwatch/apps/tronwatch/internal/assets"
	"tronwatch/apps/tronwatch/internal/balance_monitor"
	"tronwatch/apps/tronwatch/internal/config"
	"tronwatch/apps/tronwatch/internal/dedup"
	"tronwatch/apps/tronwatch/internal/energy"
	"tronwatch/apps/tronwatch/internal/event_publisher"
	"tronwatch/apps/tronwatch/internal/fulfillment"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/notifier"
	"tronwatch/apps/tronwatch/internal/orders"
	"tronwatch/apps/tronwatch/internal/poller"
	"tronwatch/apps/tronwatch/internal/repository"
	"tronwatch/apps/tronwatch/internal/repository/memory"
	"tronwatch/apps/tronwatch/internal/tron"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tronwatch",
		Short:        "Watches TRON addresses and settles payments for energy orders",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pollers, notification publisher and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.StoreBackendPostgres {
				return fmt.Errorf("migrate requires STORE_BACKEND=%s", config.StoreBackendPostgres)
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := openDatabase(cmd.Context(), cfg.DbURL)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("Database schema is up to date")
			return nil
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := repository.InitMigration(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting tronwatch",
		zap.String("network", cfg.TronNetwork),
		zap.String("trongrid_url", cfg.TronGridURL),
		zap.String("store", cfg.StoreBackend),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Int("api_port", cfg.APIPort),
		zap.Bool("dry_run_fulfillment", cfg.IsTestnet()),
	)

	var stores repository.Stores
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := openDatabase(ctx, cfg.DbURL)
		if err != nil {
			return err
		}
		defer db.Close()
		stores = repository.NewPostgresStores(db, logger)
	default:
		logger.Warn("Using in-memory store; state is lost on restart")
		stores = memory.New().Stores()
	}

	registry := assets.NewAssetRegistry(cfg.TronNetwork)
	chain := tron.NewClient(cfg.TronGridURL, cfg.TronGridAPIKey, registry, logger.Named("trongrid"))
	vendor := energy.NewClient(energy.DefaultBaseURL, cfg.KuaizuAPIKey, logger.Named("kuaizu"))
	notify := notifier.New(stores.Outbox, logger.Named("notifier"))

	dispatcher := fulfillment.NewDispatcher(stores.Orders, cfg.FulfillmentMaxAttempts, cfg.FulfillmentBaseDelay, logger.Named("fulfillment"))
	dispatcher.Register(model.OrderTypeSpecialOffer, fulfillment.NewSpecialOfferHandler(chain, vendor, cfg.IsTestnet(), logger.Named("special_offer")))
	dispatcher.Register(model.OrderTypeSmartTRX, fulfillment.SmartTRXHandler{})

	orderService := orders.NewService(stores.Orders, orders.Pricing{
		SpecialOfferAddress: cfg.SpecialOfferAddress,
		SpecialOfferPrice:   cfg.SpecialOfferPrice,
		SmartAddress:        cfg.EnergySmartAddress,
		SmartPricePerTRX:    cfg.EnergySmartPrice,
		SmartPricePerUSDT:   cfg.EnergySmartPriceUSDT,
	}, logger.Named("orders"))

	var sink event_publisher.Sink
	if cfg.KafkaBroker != "" {
		kafkaSink, err := event_publisher.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sink = kafkaSink
	} else {
		logger.Warn("KAFKA_BROKER not set, notifications are only logged")
		sink = event_publisher.NewLogSink(logger.Named("notifications"))
	}
	publisher := event_publisher.NewEventPublisher(sink, stores.Outbox, cfg.PublishInterval, logger.Named("publisher"))
	defer publisher.Close()

	addressPoller := poller.NewAddressPoller(
		chain,
		stores.Watermarks,
		dedup.New("address", dedup.DefaultRetention, dedup.DefaultCapacity),
		stores.Subscriptions,
		chain,
		notify,
		poller.Timing{Interval: cfg.AddressPollInterval, Pause: cfg.AddressPause},
		logger.Named("address_poller"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return addressPoller.Run(gctx) })
	g.Go(func() error { return publisher.StartPublishing(gctx) })

	if accepted := cfg.PaymentAddresses(); len(accepted) > 0 {
		paymentPoller := poller.NewPaymentPoller(
			chain,
			stores.Watermarks,
			dedup.New("payment", dedup.DefaultRetention, dedup.DefaultCapacity),
			stores.Orders,
			dispatcher,
			notify,
			accepted,
			poller.Timing{Interval: cfg.PaymentPollInterval},
			logger.Named("payment_poller"),
		)
		g.Go(func() error { return paymentPoller.Run(gctx) })
	} else {
		logger.Warn("No payment addresses configured, payment poller disabled")
	}

	if cfg.KuaizuAPIKey != "" {
		monitor := balance_monitor.New(vendor, notify, cfg.KuaizuBalanceThreshold, cfg.AdminChatID, cfg.BalanceCheckInterval, logger.Named("balance_monitor"))
		g.Go(func() error { return monitor.Run(gctx) })
	}

	apiServer := api.NewServer(cfg.APIPort, orderService, dispatcher, notify, stores.Subscriptions, chain, logger.Named("api"))
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal, starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Application shutdown complete")
	return nil
}

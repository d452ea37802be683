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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/api"
	"icu-capacity-backend/internal/db"
	"icu-capacity-backend/internal/engine"
	"icu-capacity-backend/internal/events"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/monitor"
	"icu-capacity-backend/internal/notification"
	"icu-capacity-backend/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "icud",
		Short:        "ICU capacity and bed allocation engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default $CONFIG_PATH or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bedsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config path from --config, then CONFIG_PATH, then the default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	logger.Init(cfg.Log.Level)
	logger.Log.Infof("configuration loaded successfully from %s", configPath)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the capacity monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			gormDB, err := db.Init(&cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := gormDB.DB(); err == nil {
				sqlDB.Close()
			}
			fmt.Println("Schema is up to date.")
			return nil
		},
	}
}

func bedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beds",
		Short: "Manage the facility bed configuration",
	}

	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update beds from a facility configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")

			specs, err := loadBedFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			gormDB, err := db.Init(&cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := gormDB.DB(); err == nil {
				defer sqlDB.Close()
			}

			e := engine.New(cfg, store.NewGormStore(gormDB), events.Noop{})
			n, err := e.ImportBeds(cmd.Context(), specs, actor)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Printf("Imported %d bed(s), %d created or changed.\n", len(specs), n)
			return nil
		},
	}
	importCmd.Flags().String("actor", "admin", "Name recorded in the audit log")
	cmd.AddCommand(importCmd)

	return cmd
}

// discardDispatcher drops alerts when web push is not configured.
type discardDispatcher struct{}

func (discardDispatcher) Dispatch(_ context.Context, a notification.Alert) {
	logger.Log.Debugf("Push disabled, dropping %s alert %q", a.Level, a.Title)
}

func runServer(cfg *config.Config) error {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Log.Info("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()
	logger.Log.Infof("event backend: %s", cfg.Events.Backend)

	var live events.Subscriber
	if sub, ok := publisher.(events.Subscriber); ok {
		live = sub
	}

	eng := engine.New(cfg, appStore, publisher)

	var webpushOptions *webpush.Options
	var dispatcher monitor.Dispatcher = discardDispatcher{}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Log.Warn("VAPID keys are not configured; alert push notifications are disabled")
	} else {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		dispatcher = pool
	}

	monitorSvc := monitor.NewService(cfg, eng, dispatcher, publisher)
	go monitorSvc.Run(ctx)

	router := api.NewRouter(cfg, api.NewHandler(eng, webpushOptions, live))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.Infof("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Log.Info("Shutdown signal received, stopping services...")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}

	logger.Log.Info("Server gracefully stopped")
	return nil
}

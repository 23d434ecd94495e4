package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Crucible/internal/api"
	"github.com/MikeSquared-Agency/Crucible/internal/config"
	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/lab"
	"github.com/MikeSquared-Agency/Crucible/internal/metrics"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
	"github.com/MikeSquared-Agency/Crucible/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the blending API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// openStore connects to the configured backend and makes sure its schema exists.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Lab (optional)
	var labClient lab.Client
	if cfg.Lab.URL != "" {
		labClient = lab.NewHTTPClient(cfg.Lab.URL, cfg.Lab.Token)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Planner
	p := planner.New(db, hermesClient, labClient, m, cfg, logger)
	p.Start(ctx)
	defer p.Stop()
	p.SetupSubscriptions()
	logger.Info("planner started", "refresh_interval", cfg.RefreshInterval())

	// API server
	router := api.NewRouter(db, hermesClient, p, cfg.Planner.Channels, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

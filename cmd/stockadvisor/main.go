// cmd/stockadvisor/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vansales/stockadvisor/internal/api"
	"github.com/vansales/stockadvisor/internal/config"
	"github.com/vansales/stockadvisor/internal/database"
	"github.com/vansales/stockadvisor/internal/datamanager"
	"github.com/vansales/stockadvisor/internal/engine"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/metrics"
	"github.com/vansales/stockadvisor/internal/narrative"
	"github.com/vansales/stockadvisor/internal/orchestrator"
	"github.com/vansales/stockadvisor/internal/scheduler"
	"github.com/vansales/stockadvisor/internal/storage"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set by build system via ldflags)
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	var (
		configFile string
		listenAddr string
		host       string
		port       int
		dbname     string
		username   string
		password   string
	)

	rootCmd := &cobra.Command{
		Use:   "stockadvisor",
		Short: "Van-sales recommendation and supervision service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configFile, &cliOverrides{
				ListenAddr: listenAddr,
				Host:       host,
				Port:       port,
				Dbname:     dbname,
				Username:   username,
				Password:   password,
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("stockadvisor %s\n", Version)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVar(&host, "host", "", "Warehouse host (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "Warehouse port (overrides config)")
	rootCmd.Flags().StringVar(&dbname, "dbname", "", "Warehouse database name (overrides config)")
	rootCmd.Flags().StringVarP(&username, "username", "u", "", "Warehouse username (overrides config)")
	rootCmd.Flags().StringVar(&password, "password", "", "Warehouse password (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOverrides struct {
	ListenAddr string
	Host       string
	Port       int
	Dbname     string
	Username   string
	Password   string
}

func (o *cliOverrides) apply(cfg *types.Config) {
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.Host != "" {
		cfg.Database.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Database.Port = o.Port
	}
	if o.Dbname != "" {
		cfg.Database.Dbname = o.Dbname
	}
	if o.Username != "" {
		cfg.Database.Username = o.Username
	}
	if o.Password != "" {
		cfg.Database.Password = o.Password
	}
}

func serve(configFile string, overrides *cliOverrides) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrides.apply(cfg)

	logger, err := logging.NewLogger(logging.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting stockadvisor",
		zap.String("version", Version),
		zap.String("listen", cfg.Server.ListenAddr),
	)

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	if err := storage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	db, err := database.NewManager(pool, cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("failed to create warehouse manager: %w", err)
	}
	defer db.Close()

	// server is READY now; snapshots load in the background
	data := datamanager.NewManager(db, cfg, logger)

	m := metrics.New()
	eng := engine.NewEngine(cfg, logger)
	recStore := storage.NewRecommendationStore(db, logger)
	sessStore := storage.NewSessionStore(db, logger)
	analyzer := narrative.NewService(narrative.StaticUpstream{}, cfg, logger)

	orch := orchestrator.New(cfg, data, eng, recStore, sessStore, analyzer, m, logger)

	sched := scheduler.New(orch, cfg, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.NewServer(orch, db, data, cfg, logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server drain failed", err)
	}

	return nil
}

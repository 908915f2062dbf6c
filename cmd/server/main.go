// Package main provides the wildtrack sync server entrypoint.
package main

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kwachira/wildtrack/cmd/server/handlers"
	"github.com/kwachira/wildtrack/internal/config"
	"github.com/kwachira/wildtrack/internal/db"
	"github.com/kwachira/wildtrack/internal/logging"
	"github.com/kwachira/wildtrack/internal/models"
	"github.com/kwachira/wildtrack/internal/records"
	"github.com/kwachira/wildtrack/internal/sync"
	"github.com/kwachira/wildtrack/migrations"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wildtrack",
	Short: "Field-data sync backend for wildlife tracking devices",
	Long: `wildtrack ingests batches of animal registrations, GPS fixes and
field observations uploaded by disconnected field devices, and reconciles
them idempotently against server state when connectivity resumes.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back database schema migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "wildtrack.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging(cfg config.Config) {
	if cfg.LogFile != "" {
		logging.Init(logging.RotatingWriter(cfg.LogFile), logging.LogLevel(cfg.LogLevel))
		return
	}
	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))
}

func openDatabase(cfg config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	migrator := db.NewMigrator(database.DB, migrationsFS(cfg))
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return database, nil
}

func migrationsFS(cfg config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg)

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	trackingService := records.NewTrackingService(repo)
	reconciler := sync.NewReconciler(repo, map[models.DataType]sync.Creator{
		models.DataTypeAnimal:      records.NewAnimalService(repo),
		models.DataTypeTracking:    trackingService,
		models.DataTypeObservation: records.NewObservationService(repo),
	}, trackingService)

	syncHandler := handlers.NewSyncHandler(
		sync.NewSessionManager(repo),
		reconciler,
		sync.NewRetryCoordinator(repo),
		sync.NewStatsAggregator(repo),
		cfg.MaxBatchItems,
	)

	wsHub := NewWSHub()
	syncHandler.SetWebSocketHub(wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync/bulk", syncHandler.BulkSync)
	mux.HandleFunc("POST /api/sync/retry-all", syncHandler.RetryAll)
	mux.HandleFunc("POST /api/sync/retry/{itemID}", syncHandler.RetryOne)
	mux.HandleFunc("GET /api/sync/stats", syncHandler.Stats)
	mux.HandleFunc("GET /api/sync/sessions", syncHandler.Sessions)
	mux.HandleFunc("GET /api/sync/sessions/recent", syncHandler.RecentSessions)
	mux.HandleFunc("GET /api/sync/items", syncHandler.Items)
	mux.HandleFunc("GET /api/sync/items/pending", syncHandler.PendingItems)
	mux.HandleFunc("GET /api/sync/items/failed", syncHandler.FailedItems)
	mux.HandleFunc("GET /ws", wsHub.ServeWS)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wildtrack"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logging.Info("wildtrack server starting", map[string]interface{}{"addr": addr})
	return http.ListenAndServe(addr, mux)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg)

	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB, migrationsFS(cfg))

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d\n", version)
	return nil
}

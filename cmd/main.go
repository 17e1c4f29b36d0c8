package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/utils"
)

var (
	log *logger.Logger

	rootCmd = &cobra.Command{
		Use:   "alexus",
		Short: "Alexus legal assistant back end",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("APP_ENV") != "production" {
				// A missing .env is fine; real deployments set the environment.
				_ = godotenv.Load()
			}
			logMode := os.Getenv("LOG_MODE")
			if logMode == "" {
				logMode = "development"
			}
			l, err := logger.New(logMode)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
		RunE: runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the conversation tables and exit",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "alexus: %v\n", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log.Info("Attempting to migrate the database from Main now...")
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.AutoMigrateAll(); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	log.Info("Database migration from Main Successful :)")
	return nil
}

// dbDriver is read before the store opens so both commands agree on it.
func dbDriver(log *logger.Logger) string {
	return utils.GetEnv("DB_DRIVER", "postgres", log)
}

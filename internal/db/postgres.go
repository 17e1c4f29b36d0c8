package db

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
	"github.com/slotter-org/alexus-backend/internal/utils"
)

// Service is the store handle main opens once and closes at shutdown.
type Service interface {
	DB() *gorm.DB
	AutoMigrateAll() error
	Ping(ctx context.Context) error
	Close() error
}

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	//1) Get and Set Environment Variables
	log.Info("Attempting to load environment variables for Postgres now...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "alexus", log)
	log.Debug("Environment variables loaded for Postgres",
		"host", postgresHost,
		"port", postgresPort,
		"user", postgresUser,
		"dbname", postgresName,
	)
	log.Info("Environment variables loaded for Postgres :)")

	//2) Construct DSN From Environment Variables
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	//3) Attempt DB Connection
	log.Info("Attempting to connect to Postgres DB now...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Error("Failed to connect to Postgres DB", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	log.Info("Successfully Connected to Postgres DB :)")

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	return autoMigrateAll(s.db, s.log)
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

func (s *PostgresService) Ping(ctx context.Context) error {
	return ping(ctx, s.db)
}

func (s *PostgresService) Close() error {
	return closeDB(s.db)
}

// autoMigrateAll creates the conversations and messages tables. The
// messages.conversation_id foreign key (ON DELETE CASCADE) comes from the
// belongs-to constraint on types.Message. Both lookup indexes come from the
// struct tags.
func autoMigrateAll(db *gorm.DB, log *logger.Logger) error {
	log.Info("Starting AutoMigrateAll for all GORM models now...")
	if err := db.AutoMigrate(
		&types.Conversation{},
		&types.Message{},
	); err != nil {
		log.Error("AutoMigrateAll failed :(", "error", err)
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("AutoMigrateAll completed successfully :)")
	return nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slotter-org/alexus-backend/internal/logger"
)

// SQLiteService backs local development (DB_DRIVER=sqlite) and the test
// suites. Foreign keys are switched on through the DSN.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger, path string) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")
	dsn := path
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}

	log.Info("Attempting to open SQLite DB now...", "path", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error("Failed to open SQLite DB", "error", err)
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	// Every new connection to an in-memory database is a fresh database, so
	// the pool is pinned to one connection.
	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	log.Info("Successfully Opened SQLite DB :)")

	return &SQLiteService{db: db, log: serviceLog}, nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	return autoMigrateAll(s.db, s.log)
}

func (s *SQLiteService) DB() *gorm.DB {
	return s.db
}

func (s *SQLiteService) Ping(ctx context.Context) error {
	return ping(ctx, s.db)
}

func (s *SQLiteService) Close() error {
	return closeDB(s.db)
}

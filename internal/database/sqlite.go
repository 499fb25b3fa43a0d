package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/liverylab/paintrig/backend/internal/scheme"
	"github.com/liverylab/paintrig/backend/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// A single open connection serializes row writes at the store level; the
// engine's per-document queues serialize the read-then-write pairs above it.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.Account{},
		&scheme.Scheme{},
		&scheme.Layer{},
		&scheme.Share{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

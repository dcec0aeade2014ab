package db

import (
	"fmt"

	"github.com/taxpoynt/certmgr/internal/alogger"
	"github.com/taxpoynt/certmgr/internal/common"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open initializes a database connection (SQLite or PostgreSQL) and
// migrates the given models. SQLite runs in WAL mode so index reads do
// not block the single writer.
func Open(dbType, dsn string, logger common.Logger, models ...interface{}) (*gorm.DB, error) {
	var conn *gorm.DB
	var err error

	cfg := &gorm.Config{
		Logger: alogger.NewGormLogger(logger),
	}

	switch dbType {
	case "postgres":
		conn, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		conn, err = gorm.Open(sqlite.Open(dsn+`?_journal_mode=WAL&synchronous=1`), cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}

	for _, model := range models {
		if err := conn.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	logger.Debugw("database ready", "type", dbType, "models", len(models))
	return conn, nil
}

// Close closes the underlying database connection.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

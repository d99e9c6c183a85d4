// Package database opens the gorm connection backing the SQL counter store.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSQLiteDSN is used when the sqlite driver is configured without a DSN.
const DefaultSQLiteDSN = "file:flowlimit.db?cache=shared&_busy_timeout=5000"

// Open connects to driver ("sqlite" or "postgres") and sizes the pool for
// short counter transactions.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	maxOpen, maxIdle := 50, 10
	switch driver {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver needs a dsn")
		}
		dialector = postgres.Open(dsn)
	case "", "sqlite":
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		dialector = sqlite.Open(dsn)
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		maxOpen, maxIdle = 1, 1
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// Close closes the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

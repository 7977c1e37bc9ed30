package testutil

import (
	"errors"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	dbpkg "github.com/yungbote/rewatch-backend/internal/data/db"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
)

// Repo tests run against a real Postgres named by TEST_POSTGRES_DSN and are
// skipped when the variable is unset. Connecting and migrating happen once
// per test binary; isolation comes from Tx rolling back.

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var sharedLog = sync.OnceValues(func() (*logger.Logger, error) {
	return logger.New("test")
})

var sharedDB = sync.OnceValues(func() (*gorm.DB, error) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		return nil, errMissingDSN
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, err
	}
	if err := dbpkg.AutoMigrateAll(conn); err != nil {
		return nil, err
	}
	return conn, nil
})

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := sharedLog()
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return log
}

func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	conn, err := sharedDB()
	if errors.Is(err, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	return conn
}

// Tx hands the test a transaction that rolls back in cleanup, so tests can
// write freely without fouling each other.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

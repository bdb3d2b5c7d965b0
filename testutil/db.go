// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/cppla/habitledger/models"
)

var dbSeq atomic.Int64

// DB opens a private in-memory SQLite database with every model migrated.
//
// The pool holds one connection, so concurrent callers queue for it and
// their transactions never overlap. Tests that fan out goroutines against
// this DB prove idempotency under duplicate delivery (unique keys, ON
// CONFLICT replays, counters that do not double-step). They do not exercise
// SELECT ... FOR UPDATE contention, which needs MySQL or Postgres.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// Logger returns a logger that discards output.
func Logger() *zap.Logger { return zap.NewNop() }

package database

import (
	"fmt"
	"testing"
)

// openTestDB returns a migrated in-memory sqlite store. The DSN is unique per
// test and the pool is capped at one connection so shared-cache sqlite does
// not trip over concurrent writers.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := New(&Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlDB, err := db.DB.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

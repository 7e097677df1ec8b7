package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/campus/pkg/observability"
)

var testDBCounter int64

// NewTestDB returns a migrated database with the built-in roles seeded.
//
// It uses a private in-memory SQLite database unless TEST_POSTGRES_PRIMARY is
// set, in which case that PostgreSQL database is used and its tables are
// emptied first.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	var db *sql.DB
	if dbURL := os.Getenv("TEST_POSTGRES_PRIMARY"); dbURL != "" {
		db = RequireDatabase(t)
	} else {
		name := fmt.Sprintf("file:campus_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
		var err error
		db, err = sql.Open("sqlite3", name)
		if err != nil {
			t.Fatalf("failed to open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(ctx, db, observability.NopLogger()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	for _, table := range []string{"user_roles", "users", "roles"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to clear %s: %v", table, err)
		}
	}
	if _, err := InitializeBuiltInRoles(ctx, NewStore(db), observability.NopLogger()); err != nil {
		t.Fatalf("failed to seed roles: %v", err)
	}
	return db
}

// RequireDatabase connects to TEST_POSTGRES_PRIMARY or skips the test
func RequireDatabase(t testing.TB) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	return db
}

// Package testutil provides helpers for the Postgres integration tests.
// Every helper skips the calling test when TEST_DATABASE_URL is unset.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/example/delivery-matching/internal/storage/migrations"
)

const dsnEnv = "TEST_DATABASE_URL"

// DSN returns the test database DSN, or "" when integration tests are off.
func DSN() string {
	return os.Getenv(dsnEnv)
}

// NewPool opens a pool on the test database and closes it on cleanup.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := requireDSN(t)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("testutil.NewPool: open pool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("testutil.NewPool: ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Migrate applies every embedded migration. It is meant for TestMain, where
// no *testing.T exists, and panics on failure.
func Migrate(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		panic("testutil.Migrate: open: " + err.Error())
	}
	defer db.Close()

	if _, err := migrations.Up(context.Background(), db); err != nil {
		panic("testutil.Migrate: " + err.Error())
	}
}

func requireDSN(t *testing.T) string {
	t.Helper()
	dsn := DSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	return dsn
}

package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-matching/internal/storage"
	"github.com/example/delivery-matching/internal/testutil"
)

func TestMain(m *testing.M) {
	if dsn := testutil.DSN(); dsn != "" {
		testutil.Migrate(dsn)
	}
	os.Exit(m.Run())
}

// newTxStore returns a PostgresStore bound to a transaction that is rolled
// back when the test finishes.
func newTxStore(t *testing.T) storage.Store {
	t.Helper()
	pool := testutil.NewPool(t)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err, "begin transaction")
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })

	return storage.NewPostgresStore(tx)
}

func TestPostgresStore_Contract(t *testing.T) {
	runContract(t, newTxStore)
}

// The race needs real concurrent connections, so it runs on the pool and
// relies on fresh ids instead of rollback.
func TestPostgresStore_InsertMatchRace(t *testing.T) {
	pool := testutil.NewPool(t)
	s := storage.NewPostgresStore(pool)
	ctx := context.Background()

	trip, err := s.CreateTrip(ctx, tripFixture(uuid.NewString()))
	require.NoError(t, err)
	req, err := s.CreateRequest(ctx, requestFixture(uuid.NewString(), trip.DestinationCountry))
	require.NoError(t, err)

	assert.Equal(t, 1, raceInsert(t, s, trip, req))
}

package persistence

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/lendr/loanflow/internal/testutil"
)

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	dsn := testutil.GetPostgresEndpoint(t)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	instances, err := NewPostgresInstanceStore(db)
	require.NoError(t, err)
	events, err := NewPostgresEventStore(db)
	require.NoError(t, err)

	// The database is shared across subtests; the suite isolates by id.
	runStoreSuite(t, func(t *testing.T) (InstanceStore, EventStore) {
		return instances, events
	})
}

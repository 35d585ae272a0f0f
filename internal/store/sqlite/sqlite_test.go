package sqlite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/store/sqlite"
	"github.com/rezonia/einvoice-engine/internal/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) storetest.Backend {
		db, err := sqlite.Open(sqlite.Config{Path: ":memory:"}, sqlite.WithClock(clock.Now))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/einvoice.db"

	db, err := sqlite.Open(sqlite.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// schema creation is idempotent
	db, err = sqlite.Open(sqlite.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

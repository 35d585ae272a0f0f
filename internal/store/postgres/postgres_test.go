package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/store/postgres"
	"github.com/rezonia/einvoice-engine/internal/store/storetest"
)

// Runs against a real server when EINVOICE_TEST_POSTGRES_DSN is set
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("EINVOICE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EINVOICE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.New(pool).Migrate(ctx))

	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) storetest.Backend {
		return postgres.New(pool, postgres.WithClock(clock.Now))
	})
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const latestSchemaVersion = 5

func requireSchemaAt(t *testing.T, store *Store, want int64) {
	t.Helper()
	version, count, err := store.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, version)
	require.Equal(t, int(want), count)
}

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireSchemaAt(t, store, 0)

	require.NoError(t, store.MigrateUp(ctx, 2))
	requireSchemaAt(t, store, 2)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireSchemaAt(t, store, latestSchemaVersion)
	require.NoError(t, store.MigrateUp(ctx, 0), "repeated up is a no-op")
	requireSchemaAt(t, store, latestSchemaVersion)

	require.NoError(t, store.MigrateDown(ctx, 1))
	requireSchemaAt(t, store, latestSchemaVersion-1)
	require.NoError(t, store.MigrateDown(ctx, 0), "zero steps rolls back one migration")
	requireSchemaAt(t, store, latestSchemaVersion-2)

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireSchemaAt(t, store, 0)
	require.NoError(t, store.MigrateDown(ctx, 1), "down on an empty ledger is a no-op")

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_PostgresRefusesDriftedLedger(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, `UPDATE storefront_schema_migrations SET checksum = 'edited' WHERE version = 1`)
	require.NoError(t, err)
	t.Cleanup(func() {
		plan, err := loadSchemaSteps(schemaFiles)
		require.NoError(t, err)
		_, err = store.DB().ExecContext(context.Background(),
			`UPDATE storefront_schema_migrations SET checksum = $1 WHERE version = 1`, plan[0].Checksum)
		require.NoError(t, err)
	})

	require.ErrorIs(t, store.MigrateUp(ctx, 0), ErrSchemaDrift)
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.ErrorIs(t, store.MigrateUp(ctx, 0), errStoreClosed)
	require.ErrorIs(t, store.MigrateDown(ctx, 1), errStoreClosed)
	_, _, err := store.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreClosed)
}

package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate-test.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.ExecContext(context.Background(), `CREATE TABLE migrations_log (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		execution_time_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTableMigration(version, table string) migrate.Migration {
	return migrate.Migration{
		Version: version,
		Name:    "create " + table,
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "CREATE TABLE "+table+" (id INTEGER PRIMARY KEY)")
			return err
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DROP TABLE "+table)
			return err
		},
	}
}

func TestApplyAllAppliesInOrderAndSkipsAlreadyApplied(t *testing.T) {
	db := openDB(t)
	m := migrate.New(db, []migrate.Migration{
		createTableMigration("0001", "foo"),
		createTableMigration("0002", "bar"),
	})

	require.NoError(t, m.ApplyAll(context.Background()))
	applied, err := m.Applied(context.Background())
	require.NoError(t, err)
	assert.True(t, applied["0001"])
	assert.True(t, applied["0002"])

	// Re-running ApplyAll must be a no-op, not fail on "table already exists".
	require.NoError(t, m.ApplyAll(context.Background()))
}

func TestApplyAllStopsAtFirstFailure(t *testing.T) {
	db := openDB(t)
	failing := migrate.Migration{
		Version: "0001",
		Name:    "broken",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return errors.New("boom")
		},
	}
	m := migrate.New(db, []migrate.Migration{
		failing,
		createTableMigration("0002", "never_reached"),
	})

	err := m.ApplyAll(context.Background())
	assert.Error(t, err)

	applied, err := m.Applied(context.Background())
	require.NoError(t, err)
	assert.False(t, applied["0001"])
	assert.False(t, applied["0002"])

	log, err := m.Log(context.Background())
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.False(t, log[0].Success)
	assert.Contains(t, log[0].Error, "boom")
}

func TestApplyOneRejectsMissingDependency(t *testing.T) {
	db := openDB(t)
	m := migrate.New(db, []migrate.Migration{
		createTableMigration("0001", "foo"),
		{
			Version:  "0002",
			Name:     "needs 0001",
			Requires: []string{"0001"},
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "CREATE TABLE bar (id INTEGER PRIMARY KEY)")
				return err
			},
		},
	})

	err := m.ApplyOne(context.Background(), "0002")
	assert.Error(t, err, "0001 has not been applied yet")

	require.NoError(t, m.ApplyOne(context.Background(), "0001"))
	require.NoError(t, m.ApplyOne(context.Background(), "0002"))
}

func TestRollbackOneRunsDownAndRemovesLogEntry(t *testing.T) {
	db := openDB(t)
	mig := createTableMigration("0001", "foo")
	m := migrate.New(db, []migrate.Migration{mig})
	require.NoError(t, m.ApplyAll(context.Background()))

	require.NoError(t, m.RollbackOne(context.Background(), "0001"))

	applied, err := m.Applied(context.Background())
	require.NoError(t, err)
	assert.False(t, applied["0001"])

	_, err = db.ExecContext(context.Background(), "SELECT * FROM foo")
	assert.Error(t, err, "table should have been dropped by the Down migration")
}

func TestRollbackOneWithoutDownFails(t *testing.T) {
	db := openDB(t)
	mig := migrate.Migration{
		Version: "0001",
		Name:    "no rollback",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "CREATE TABLE foo (id INTEGER PRIMARY KEY)")
			return err
		},
	}
	m := migrate.New(db, []migrate.Migration{mig})
	require.NoError(t, m.ApplyAll(context.Background()))

	err := m.RollbackOne(context.Background(), "0001")
	assert.Error(t, err)
}

func TestDryRunReportsPendingWithoutApplying(t *testing.T) {
	db := openDB(t)
	m := migrate.New(db, []migrate.Migration{
		createTableMigration("0001", "foo"),
		createTableMigration("0002", "bar"),
	})

	results, err := m.DryRun(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Pending)
	assert.True(t, results[1].Pending)

	_, err = db.ExecContext(context.Background(), "SELECT * FROM foo")
	assert.Error(t, err, "dry run must not have created the table")
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// openStore opens a fresh SQLite database in a temp directory, applying
// every migration, and registers cleanup to close it.
func openStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(context.Background(), filepath.Join(dir, "ctxkeeper.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedSession inserts a session row directly and returns its ID.
func seedSession(t *testing.T, store *sqlite.SQLiteStorage, name, defaultChannel string) string {
	t.Helper()
	sess := &types.Session{ID: name + "-" + time.Now().Format("150405.000000000"), Name: name, DefaultChannel: defaultChannel}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess.ID
}

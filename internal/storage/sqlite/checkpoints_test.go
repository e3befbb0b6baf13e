package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

func TestCreateCheckpointSnapshotsCurrentItems(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, sid, types.SaveRequest{Key: "k2", Value: "v2"})
	require.NoError(t, err)

	cp, err := store.CreateCheckpoint(ctx, sid, "cp1", "desc", "clean", "main")
	require.NoError(t, err)
	assert.Len(t, cp.ItemIDs, 2)
	assert.Equal(t, "cp1", cp.Name)
}

func TestCheckpointItemsOmitsDeletedItems(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, sid, types.SaveRequest{Key: "k2", Value: "v2"})
	require.NoError(t, err)

	cp, err := store.CreateCheckpoint(ctx, sid, "cp1", "", "", "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteItem(ctx, sid, "k1"))

	items, err := store.CheckpointItems(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, items, 1, "deleted item must be silently omitted, not erroring")
	assert.Equal(t, "k2", items[0].Key)
}

func TestGetCheckpointLoadsMetadataAndMembers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)

	created, err := store.CreateCheckpoint(ctx, sid, "cp1", "a description", "dirty", "feature/x")
	require.NoError(t, err)

	got, err := store.GetCheckpoint(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cp1", got.Name)
	assert.Equal(t, "a description", got.Description)
	assert.Equal(t, "dirty", got.GitStatus)
	assert.Equal(t, "feature/x", got.GitBranch)
	assert.Equal(t, created.ItemIDs, got.ItemIDs)
}

package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

func TestSaveItemCreatesThenUpdates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")

	created, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "general", created.Channel, "falls back to the default channel")
	assert.Equal(t, types.PriorityNormal, created.Priority)

	updated, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v2"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "upsert keeps the same row identity")
	assert.Equal(t, "v2", updated.Value)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt, "created_at must survive an update")
}

func TestSaveItemUsesSessionDefaultChannel(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "feature-x")

	it, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "feature-x", it.Channel)
}

func TestSaveItemExplicitChannelWins(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "feature-x")

	it, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1", Channel: "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", it.Channel)
}

func TestSaveItemRejectsInvalidCategory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	bad := types.Category("not-a-real-category")

	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v1", Category: &bad})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestGetItemOwnItemWinsOverPublic(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	owner := seedSession(t, store, "owner", "")
	viewer := seedSession(t, store, "viewer", "")

	_, err := store.SaveItem(ctx, owner, types.SaveRequest{Key: "shared", Value: "from-owner"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, viewer, types.SaveRequest{Key: "shared", Value: "from-viewer"})
	require.NoError(t, err)

	got, err := store.GetItem(ctx, viewer, "shared")
	require.NoError(t, err)
	assert.Equal(t, "from-viewer", got.Value, "viewer's own item always wins")
}

func TestGetItemFallsBackToPublicItem(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	owner := seedSession(t, store, "owner", "")
	viewer := seedSession(t, store, "viewer", "")

	_, err := store.SaveItem(ctx, owner, types.SaveRequest{Key: "shared", Value: "public-value"})
	require.NoError(t, err)

	got, err := store.GetItem(ctx, viewer, "shared")
	require.NoError(t, err)
	assert.Equal(t, "public-value", got.Value)
}

func TestGetItemDoesNotFallBackToPrivateItem(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	owner := seedSession(t, store, "owner", "")
	viewer := seedSession(t, store, "viewer", "")
	private := true

	_, err := store.SaveItem(ctx, owner, types.SaveRequest{Key: "secret", Value: "v", IsPrivate: &private})
	require.NoError(t, err)

	_, err = store.GetItem(ctx, viewer, "secret")
	assert.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestDeleteItemRemovesRowAndRelationships(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")

	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "a", Value: "va"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, sid, types.SaveRequest{Key: "b", Value: "vb"})
	require.NoError(t, err)
	_, err = store.Link(ctx, sid, "a", "b", types.RelRelatedTo, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteItem(ctx, sid, "a"))

	_, err = store.GetItem(ctx, sid, "a")
	assert.Error(t, err)

	out, in, err := store.GetRelationships(ctx, sid, "b")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, in, "relationship referencing the deleted key must be gone")
}

func TestDeleteItemNotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")

	err := store.DeleteItem(ctx, sid, "does-not-exist")
	assert.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

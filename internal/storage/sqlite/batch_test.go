package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

func TestBatchSavePartialFailureDoesNotRollBackOtherElements(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	bad := types.Category("not-a-category")

	result, err := store.BatchSave(ctx, sid, []types.BatchSaveItem{
		{Key: "good-1", Value: "v"},
		{Key: "bad-1", Value: "v", Category: &bad},
		{Key: "good-2", Value: "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	_, err = store.GetItem(ctx, sid, "good-1")
	assert.NoError(t, err)
	_, err = store.GetItem(ctx, sid, "good-2")
	assert.NoError(t, err)
	_, err = store.GetItem(ctx, sid, "bad-1")
	assert.Error(t, err, "the failed element must not have been committed")
}

func TestBatchUpdateByKeyPattern(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	for _, k := range []string{"task-1", "task-2", "note-1"} {
		_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: k, Value: "old"})
		require.NoError(t, err)
	}

	newValue := "new"
	result, err := store.BatchUpdate(ctx, sid, nil, "task-*", types.BatchUpdateItem{Value: &newValue})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)

	it, err := store.GetItem(ctx, sid, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "new", it.Value)

	it, err = store.GetItem(ctx, sid, "note-1")
	require.NoError(t, err)
	assert.Equal(t, "old", it.Value, "non-matching key must be untouched")
}

func TestBatchUpdateUnknownKeyReportsElementFailure(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "exists", Value: "v"})
	require.NoError(t, err)

	newValue := "updated"
	result, err := store.BatchUpdate(ctx, sid, []string{"exists", "missing"}, "", types.BatchUpdateItem{Value: &newValue})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

func TestBatchDeleteDryRunDoesNotDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v"})
	require.NoError(t, err)

	result, err := store.BatchDelete(ctx, sid, []string{"k1"}, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, "skipped", result.Results[0].Action)

	_, err = store.GetItem(ctx, sid, "k1")
	assert.NoError(t, err, "dry run must not have deleted the item")
}

func TestBatchDeleteByChannel(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v", Channel: "doomed"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, sid, types.SaveRequest{Key: "k2", Value: "v", Channel: "safe"})
	require.NoError(t, err)

	result, err := store.BatchDelete(ctx, sid, nil, "", "doomed", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	_, err = store.GetItem(ctx, sid, "k1")
	assert.Error(t, err)
	_, err = store.GetItem(ctx, sid, "k2")
	assert.NoError(t, err)
}

func TestReassignChannelFiltersByCategory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	decision := types.CategoryDecision
	note := types.CategoryNote

	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "d1", Value: "v", Category: &decision, Channel: "from"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, sid, types.SaveRequest{Key: "n1", Value: "v", Category: &note, Channel: "from"})
	require.NoError(t, err)

	matched, err := store.ReassignChannel(ctx, sid, nil, "", "from", "to", &decision, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, matched)

	it, err := store.GetItem(ctx, sid, "d1")
	require.NoError(t, err)
	assert.Equal(t, "to", it.Channel)

	it, err = store.GetItem(ctx, sid, "n1")
	require.NoError(t, err)
	assert.Equal(t, "from", it.Channel, "non-matching category must be untouched")
}

func TestReassignChannelDryRunReportsWithoutMutating(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sid := seedSession(t, store, "s1", "")
	_, err := store.SaveItem(ctx, sid, types.SaveRequest{Key: "k1", Value: "v", Channel: "from"})
	require.NoError(t, err)

	matched, err := store.ReassignChannel(ctx, sid, []string{"k1"}, "", "from", "to", nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, matched)

	it, err := store.GetItem(ctx, sid, "k1")
	require.NoError(t, err)
	assert.Equal(t, "from", it.Channel)
}

func TestCopyBetweenSessionsSkipsExistingKeys(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	src := seedSession(t, store, "src", "")
	dst := seedSession(t, store, "dst", "")

	_, err := store.SaveItem(ctx, src, types.SaveRequest{Key: "k1", Value: "from-src"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, src, types.SaveRequest{Key: "k2", Value: "from-src"})
	require.NoError(t, err)
	_, err = store.SaveItem(ctx, dst, types.SaveRequest{Key: "k1", Value: "already-here"})
	require.NoError(t, err)

	copied, err := store.CopyBetweenSessions(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, copied, "k1 already existed in dst and must be skipped")

	it, err := store.GetItem(ctx, dst, "k1")
	require.NoError(t, err)
	assert.Equal(t, "already-here", it.Value)

	it, err = store.GetItem(ctx, dst, "k2")
	require.NoError(t, err)
	assert.Equal(t, "from-src", it.Value)
}

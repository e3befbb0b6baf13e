package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/rpc"
	"github.com/ctxkeeper/ctxkeeper/internal/session"
	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// newSearchDeps wires a real temp-file store behind rpc.Deps, the same way
// cmd/ctxkeeperd/serve.go does, so the search tool is exercised across the
// actual JSON decode boundary rather than by calling the storage layer
// directly.
func newSearchDeps(t *testing.T) (rpc.Deps, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(context.Background(), filepath.Join(dir, "ctxkeeper.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.New(store)
	sess, err := sessions.Create(context.Background(), session.CreateOptions{Name: "s1"})
	require.NoError(t, err)

	return rpc.Deps{Store: store, Sessions: sessions}, sess.ID
}

func TestSearchOmittedLimitAppliesServerDefault(t *testing.T) {
	deps, sid := newSearchDeps(t)
	for i := 0; i < 150; i++ {
		_, err := deps.Store.SaveItem(context.Background(), sid, types.SaveRequest{
			Key: fmt.Sprintf("bulk-%d", i), Value: "v",
		})
		require.NoError(t, err)
	}

	s := rpc.NewServer(nil)
	rpc.RegisterAll(s, deps)

	in := strings.NewReader(fmt.Sprintf(`{"id":"1","method":"search","params":{"SessionID":%q}}`, sid) + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), in, &out))

	responses := decodeLines(t, &out)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result types.SearchResult
	raw, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &result))

	require.Len(t, result.Items, 100, "an omitted limit must fall back to the server default of 100, not return every item")
	require.True(t, result.Pagination.DefaultsApplied.Limit)
}

func TestSearchExplicitZeroLimitIsUnlimited(t *testing.T) {
	deps, sid := newSearchDeps(t)
	for i := 0; i < 150; i++ {
		_, err := deps.Store.SaveItem(context.Background(), sid, types.SaveRequest{
			Key: fmt.Sprintf("bulk-%d", i), Value: "v",
		})
		require.NoError(t, err)
	}

	s := rpc.NewServer(nil)
	rpc.RegisterAll(s, deps)

	in := strings.NewReader(fmt.Sprintf(`{"id":"1","method":"search","params":{"SessionID":%q,"Limit":0}}`, sid) + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), in, &out))

	responses := decodeLines(t, &out)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	var result types.SearchResult
	raw, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &result))

	require.Len(t, result.Items, 150, `an explicit "Limit":0 must mean unlimited, not the server default`)
	require.False(t, result.Pagination.DefaultsApplied.Limit)
}

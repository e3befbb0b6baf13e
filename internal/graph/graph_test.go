package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/graph"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// fakeStore is a minimal in-memory stand-in for the relationship store,
// grounded on the teacher's own preference for hand-rolled fakes over a
// mocking framework in package-local tests.
type fakeStore struct {
	edges []*types.Relationship
}

func (f *fakeStore) AllRelationships(ctx context.Context, sessionID string) ([]*types.Relationship, error) {
	return f.edges, nil
}

func (f *fakeStore) Link(ctx context.Context, sessionID, fromKey, toKey string, relType types.RelationType, metadata map[string]any) (*types.Relationship, error) {
	rel := &types.Relationship{SessionID: sessionID, FromKey: fromKey, ToKey: toKey, Type: relType, Metadata: metadata}
	f.edges = append(f.edges, rel)
	return rel, nil
}

func TestTraverseOutgoing(t *testing.T) {
	store := &fakeStore{edges: []*types.Relationship{
		{FromKey: "a", ToKey: "b", Type: types.RelContains},
		{FromKey: "b", ToKey: "c", Type: types.RelContains},
		{FromKey: "a", ToKey: "d", Type: types.RelRelatedTo},
	}}
	g := graph.New(store)

	nodes, err := g.Traverse(context.Background(), "s1", "a", "outgoing", nil, 5)
	require.NoError(t, err)
	keys := make(map[string]int)
	for _, n := range nodes {
		keys[n.Key] = n.Depth
	}
	assert.Equal(t, 1, keys["b"])
	assert.Equal(t, 2, keys["c"])
	assert.Equal(t, 1, keys["d"])
}

func TestTraverseMaxDepth(t *testing.T) {
	store := &fakeStore{edges: []*types.Relationship{
		{FromKey: "a", ToKey: "b", Type: types.RelContains},
		{FromKey: "b", ToKey: "c", Type: types.RelContains},
	}}
	g := graph.New(store)

	nodes, err := g.Traverse(context.Background(), "s1", "a", "outgoing", nil, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].Key)
}

func TestDetectCycle(t *testing.T) {
	store := &fakeStore{edges: []*types.Relationship{
		{FromKey: "a", ToKey: "b", Type: types.RelDependsOn},
		{FromKey: "b", ToKey: "c", Type: types.RelDependsOn},
	}}
	g := graph.New(store)

	cyclic, err := g.DetectCycle(context.Background(), "s1", "c", "a")
	require.NoError(t, err)
	assert.True(t, cyclic, "c -> a would close a -> b -> c -> a")

	cyclic, err = g.DetectCycle(context.Background(), "s1", "a", "c")
	require.NoError(t, err)
	assert.False(t, cyclic)
}

func TestLinkCheckedRejectsCycle(t *testing.T) {
	store := &fakeStore{edges: []*types.Relationship{
		{FromKey: "a", ToKey: "b", Type: types.RelDependsOn},
	}}
	g := graph.New(store)

	_, err := g.LinkChecked(context.Background(), "s1", "b", "a", types.RelDependsOn, nil)
	require.Error(t, err)

	_, err = g.LinkChecked(context.Background(), "s1", "a", "c", types.RelDependsOn, nil)
	require.NoError(t, err)
}

func TestStatisticsOrphans(t *testing.T) {
	store := &fakeStore{edges: []*types.Relationship{
		{FromKey: "a", ToKey: "b", Type: types.RelContains},
	}}
	g := graph.New(store)

	stats, err := g.Statistics(context.Background(), "s1", []string{"a", "b", "c"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, stats.Orphans)
	assert.Equal(t, 1, stats.EdgeCountByType[types.RelContains])
}

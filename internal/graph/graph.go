// Package graph implements the relationship graph's read-side
// operations atop internal/storage: traversal, cycle detection, and
// summary statistics over a session's context_relationships edges
// (spec.md §4.6).
package graph

import (
	"context"
	"sort"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// relationshipStore is the narrow slice of storage.Storage the graph
// needs, accepted as an interface so tests can supply a fake without
// implementing the full storage surface.
type relationshipStore interface {
	AllRelationships(ctx context.Context, sessionID string) ([]*types.Relationship, error)
	Link(ctx context.Context, sessionID, fromKey, toKey string, relType types.RelationType, metadata map[string]any) (*types.Relationship, error)
}

// Graph wraps a relationship store to answer relationship queries for
// one session at a time.
type Graph struct {
	store relationshipStore
}

// New constructs a Graph over store.
func New(store relationshipStore) *Graph {
	return &Graph{store: store}
}

// Node is one step of a traversal result: the key reached, the edge
// type that led to it, and its distance from the start key.
type Node struct {
	Key      string
	Via      types.RelationType
	Depth    int
}

// Traverse performs a breadth-first walk outward from start, following
// edges in the given direction ("outgoing", "incoming", or "both"), up
// to maxDepth hops, restricted to relTypes if non-empty. The start key
// itself is not included in the result.
func (g *Graph) Traverse(ctx context.Context, sessionID, start string, direction string, relTypes []types.RelationType, maxDepth int) ([]Node, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	allowed := make(map[types.RelationType]bool, len(relTypes))
	for _, t := range relTypes {
		allowed[t] = true
	}

	edges, err := g.store.AllRelationships(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	adj := buildAdjacency(edges, direction)

	visited := map[string]bool{start: true}
	queue := []Node{{Key: start, Depth: 0}}
	var out []Node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Depth >= maxDepth {
			continue
		}
		for _, e := range adj[cur.Key] {
			if len(allowed) > 0 && !allowed[e.relType] {
				continue
			}
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			next := Node{Key: e.to, Via: e.relType, Depth: cur.Depth + 1}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}

type edge struct {
	to      string
	relType types.RelationType
}

// buildAdjacency builds a from-key adjacency list honoring direction:
// "outgoing" follows from_key->to_key, "incoming" follows the reverse,
// "both" follows either.
func buildAdjacency(edges []*types.Relationship, direction string) map[string][]edge {
	adj := make(map[string][]edge)
	for _, e := range edges {
		if direction != "incoming" {
			adj[e.FromKey] = append(adj[e.FromKey], edge{to: e.ToKey, relType: e.Type})
		}
		if direction == "incoming" || direction == "both" {
			adj[e.ToKey] = append(adj[e.ToKey], edge{to: e.FromKey, relType: e.Type})
		}
	}
	return adj
}

// DetectCycle reports whether adding a depends_on edge from->to would
// create a cycle in the existing depends_on subgraph, i.e. whether to
// can already reach from by following depends_on edges forward. Only
// depends_on is cycle-checked; the other relation types are allowed to
// form cycles freely (spec.md §4.6's invariant is scoped to dependency
// edges specifically).
func (g *Graph) DetectCycle(ctx context.Context, sessionID, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}
	edges, err := g.store.AllRelationships(ctx, sessionID)
	if err != nil {
		return false, err
	}
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Type == types.RelDependsOn {
			adj[e.FromKey] = append(adj[e.FromKey], e.ToKey)
		}
	}

	visited := map[string]bool{to: true}
	queue := []string{to}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == from {
			return true, nil
		}
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false, nil
}

// LinkChecked wraps storage.Link with the depends_on cycle check, used
// by the RPC layer so link tool calls reject cycle-forming edges before
// they ever reach storage.
func (g *Graph) LinkChecked(ctx context.Context, sessionID, fromKey, toKey string, relType types.RelationType, metadata map[string]any) (*types.Relationship, error) {
	if relType == types.RelDependsOn {
		cyclic, err := g.DetectCycle(ctx, sessionID, fromKey, toKey)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, errs.Ef(errs.FailedPrecondition, nil, "linking %q depends_on %q would create a cycle", fromKey, toKey)
		}
	}
	return g.store.Link(ctx, sessionID, fromKey, toKey, relType, metadata)
}

// Stats summarizes a session's relationship graph: edge counts by type,
// the top-N most-connected keys, and orphan keys (items with no edges at
// all in either direction).
type Stats struct {
	EdgeCountByType map[types.RelationType]int
	TopConnected    []KeyDegree
	Orphans         []string
}

// KeyDegree pairs a key with its total in+out degree.
type KeyDegree struct {
	Key    string
	Degree int
}

// Statistics computes Stats for a session, given the full set of item
// keys currently in it (so orphans can be identified).
func (g *Graph) Statistics(ctx context.Context, sessionID string, allKeys []string, topN int) (*Stats, error) {
	edges, err := g.store.AllRelationships(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	degree := make(map[string]int)
	byType := make(map[types.RelationType]int)
	for _, e := range edges {
		byType[e.Type]++
		degree[e.FromKey]++
		degree[e.ToKey]++
	}

	var ranked []KeyDegree
	for k, d := range degree {
		ranked = append(ranked, KeyDegree{Key: k, Degree: d})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Degree == ranked[j].Degree {
			return ranked[i].Key < ranked[j].Key
		}
		return ranked[i].Degree > ranked[j].Degree
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	var orphans []string
	for _, k := range allKeys {
		if degree[k] == 0 {
			orphans = append(orphans, k)
		}
	}
	sort.Strings(orphans)

	return &Stats{EdgeCountByType: byType, TopConnected: ranked, Orphans: orphans}, nil
}

// Package compress implements the deterministic, age-based compaction
// engine (spec.md §4.8): items older than a cutoff are grouped by
// category, folded into a CompressedBucket summary, and deleted. No
// language model is involved; the summary is a statistical digest of
// the group (counts, a sample of keys/values, and a byte-size ratio).
package compress

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// SampleSize caps how many keys/values are retained verbatim in a
// bucket's Sample field, to keep the summary itself small.
const SampleSize = 5

// compactionStore is the narrow slice of storage.Storage the engine
// needs, accepted as an interface so tests can supply a fake.
type compactionStore interface {
	ItemsOlderThan(ctx context.Context, sessionID string, olderThan time.Time, preserveCategories []types.Category) ([]*types.ContextItem, error)
	DeleteItemsByID(ctx context.Context, ids []string) error
	SaveCompressedBucket(ctx context.Context, bucket *types.CompressedBucket) error
}

// Engine runs compaction passes against a compactionStore.
type Engine struct {
	store compactionStore
}

// New constructs an Engine over store.
func New(store compactionStore) *Engine {
	return &Engine{store: store}
}

// Result reports the outcome of one compaction pass.
type Result struct {
	Buckets       []*types.CompressedBucket
	ItemsRemoved  int
	BytesReclaimed int
}

// Run compacts every item in sessionID older than olderThan, excluding
// categories in preserveCategories (e.g. decisions are often preserved
// indefinitely). Items are grouped by category; each group below
// minGroupSize is left untouched rather than compacted as a singleton,
// since a bucket summarizing one item saves nothing and loses detail.
func (e *Engine) Run(ctx context.Context, sessionID string, olderThan time.Time, preserveCategories []types.Category, minGroupSize int) (*Result, error) {
	if minGroupSize <= 0 {
		minGroupSize = 3
	}
	items, err := e.store.ItemsOlderThan(ctx, sessionID, olderThan, preserveCategories)
	if err != nil {
		return nil, err
	}

	groups := make(map[types.Category][]*types.ContextItem)
	for _, it := range items {
		groups[it.Category] = append(groups[it.Category], it)
	}

	result := &Result{}
	for category, group := range groups {
		if len(group) < minGroupSize {
			continue
		}
		bucket, err := summarize(sessionID, category, group)
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveCompressedBucket(ctx, bucket); err != nil {
			return nil, err
		}
		ids := make([]string, len(group))
		for i, it := range group {
			ids[i] = it.ID
		}
		if err := e.store.DeleteItemsByID(ctx, ids); err != nil {
			return nil, err
		}
		result.Buckets = append(result.Buckets, bucket)
		result.ItemsRemoved += bucket.Count
		result.BytesReclaimed += bucket.OriginalBytes - bucket.CompressedBytes
	}
	return result, nil
}

// summarize folds one category group into a CompressedBucket: per-
// priority counts, every key, a byte-size sample of up to SampleSize
// values, and the observed time range.
func summarize(sessionID string, category types.Category, group []*types.ContextItem) (*types.CompressedBucket, error) {
	if len(group) == 0 {
		return nil, errs.E(errs.Internal, nil, "summarize called with an empty group")
	}
	priorityCounts := make(map[types.Priority]int)
	var keys, sample []string
	originalBytes := 0
	rangeStart, rangeEnd := group[0].CreatedAt, group[0].CreatedAt

	for i, it := range group {
		priorityCounts[it.Priority]++
		keys = append(keys, it.Key)
		originalBytes += it.SizeBytes
		if it.CreatedAt.Before(rangeStart) {
			rangeStart = it.CreatedAt
		}
		if it.CreatedAt.After(rangeEnd) {
			rangeEnd = it.CreatedAt
		}
		if i < SampleSize {
			sample = append(sample, it.Key+": "+truncate(it.Value, 200))
		}
	}

	compressedBytes := 0
	for _, s := range sample {
		compressedBytes += len(s)
	}
	ratio := 0.0
	if originalBytes > 0 {
		ratio = float64(compressedBytes) / float64(originalBytes)
	}

	return &types.CompressedBucket{
		ID: uuid.NewString(), SessionID: sessionID, Category: category, Count: len(group),
		PriorityCounts: priorityCounts, Keys: keys, Sample: sample,
		OriginalBytes: originalBytes, CompressedBytes: compressedBytes, Ratio: ratio,
		RangeStart: rangeStart, RangeEnd: rangeEnd, CreatedAt: time.Now(),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

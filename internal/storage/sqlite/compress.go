package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// ItemsOlderThan returns every item in a session created before the
// cutoff, excluding any category named in preserveCategories. The
// compression engine (internal/compress) groups the result by category
// before summarizing and deleting it.
func (s *SQLiteStorage) ItemsOlderThan(ctx context.Context, sessionID string, olderThan time.Time, preserveCategories []types.Category) ([]*types.ContextItem, error) {
	where := []string{"session_id = ?", "created_at < ?"}
	args := []any{sessionID, formatTime(olderThan)}
	for _, cat := range preserveCategories {
		where = append(where, "category != ?")
		args = append(args, string(cat))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM context_items WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, errs.WrapDB("list items older than cutoff", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errs.WrapDB("scan aged item row", err)
		}
		out = append(out, it)
	}
	return out, errs.WrapDB("iterate aged item rows", rows.Err())
}

// DeleteItemsByID removes a batch of items in one transaction, cascading
// relationship deletion for each, used by the compression engine after
// it has folded the rows into a CompressedBucket.
func (s *SQLiteStorage) DeleteItemsByID(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var sessionID, key string
			err := tx.QueryRowContext(ctx, `SELECT session_id, key FROM context_items WHERE id = ?`, id).Scan(&sessionID, &key)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return errs.WrapDBf(err, "look up item %q for compression delete", id)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM context_items WHERE id = ?`, id); err != nil {
				return errs.WrapDBf(err, "delete compressed item %q", id)
			}
			if err := s.deleteRelationshipsForKeyTx(ctx, tx, sessionID, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveCompressedBucket persists one summary bucket produced by the
// compression engine.
func (s *SQLiteStorage) SaveCompressedBucket(ctx context.Context, bucket *types.CompressedBucket) error {
	priorityCounts, err := marshalPriorityCounts(bucket.PriorityCounts)
	if err != nil {
		return errs.Ef(errs.InvalidArgument, err, "invalid priority counts")
	}
	keys := marshalStrings(bucket.Keys)
	sample := marshalStrings(bucket.Sample)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compressed_context (id, session_id, category, count, priority_counts, keys, sample, original_bytes, compressed_bytes, ratio, range_start, range_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bucket.ID, bucket.SessionID, string(bucket.Category), bucket.Count, priorityCounts, keys, sample,
		bucket.OriginalBytes, bucket.CompressedBytes, bucket.Ratio, formatTime(bucket.RangeStart), formatTime(bucket.RangeEnd), formatTime(bucket.CreatedAt))
	return errs.WrapDBf(err, "save compressed bucket %q", bucket.ID)
}

func marshalPriorityCounts(counts map[types.Priority]int) (string, error) {
	if len(counts) == 0 {
		return "", nil
	}
	flat := make(map[string]int, len(counts))
	for p, c := range counts {
		flat[string(p)] = c
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

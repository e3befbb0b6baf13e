package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// appendChangeLog records one durable row behind every mutation so a
// watcher that was offline can replay everything it missed by sequence
// number rather than relying solely on the in-process pub/sub fan-out.
func (s *SQLiteStorage) appendChangeLog(ctx context.Context, tx *sql.Tx, eventType string, item *types.ContextItem, occurred time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_log (event_type, item_id, session_id, key, channel, category, priority, is_private, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventType, item.ID, item.SessionID, item.Key, item.Channel, string(item.Category), string(item.Priority),
		boolToInt(item.IsPrivate), formatTime(occurred))
	return errs.WrapDB("append change log", err)
}

// CurrentSequence returns the highest committed change_log sequence
// number, 0 if no change has ever been recorded.
func (s *SQLiteStorage) CurrentSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM change_log`).Scan(&seq)
	if err != nil {
		return 0, errs.WrapDB("read current sequence", err)
	}
	return seq.Int64, nil
}

// ChangesSince returns every change_log row with sequence > since, in
// order, capped at limit (0 means unlimited). The watcher subsystem uses
// this both for long-poll catch-up and for recovering from a gap left by
// a dropped pub/sub notification.
//
// Item fields come from the snapshot change_log stored at the time of
// the mutation (appendChangeLog), not from a join back to context_items:
// for a "deleted" event the row is already gone from context_items by
// the time this runs, which would otherwise leave Item nil and make the
// event unmatchable by any watcher filter.
func (s *SQLiteStorage) ChangesSince(ctx context.Context, since int64, limit int) ([]storage.ChangeEvent, error) {
	query := `
		SELECT sequence, event_type, occurred_at, item_id, session_id, key, channel, category, priority, is_private
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
	`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.WrapDB("read changes since", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ChangeEvent
	for rows.Next() {
		var ev storage.ChangeEvent
		var occurred string
		var itemID, sessionID, key, channel, category, priority string
		var isPrivate int64
		if err := rows.Scan(&ev.Sequence, &ev.Type, &occurred,
			&itemID, &sessionID, &key, &channel, &category, &priority, &isPrivate); err != nil {
			return nil, errs.WrapDB("scan change row", err)
		}
		ev.Occurred = parseTimeString(occurred)
		ev.Item = &types.ContextItem{
			ID: itemID, SessionID: sessionID, Key: key, Channel: channel,
			Category: types.Category(category), Priority: types.Priority(priority),
			IsPrivate: isPrivate != 0,
		}
		out = append(out, ev)
	}
	return out, errs.WrapDB("iterate change rows", rows.Err())
}

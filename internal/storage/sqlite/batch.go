package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/ctxkeeper/ctxkeeper/internal/validate"
	"github.com/google/uuid"
)

// BatchSave saves every element inside one outer transaction, but each
// element gets its own SAVEPOINT: a validation or constraint failure on
// one element is recorded as that element's failure and rolled back to
// the savepoint, without aborting the elements around it. Only a
// storage-level failure outside any single element (e.g. the size-limit
// check on commit) fails the whole batch.
func (s *SQLiteStorage) BatchSave(ctx context.Context, sessionID string, items []types.BatchSaveItem) (*types.BatchResult, error) {
	result := &types.BatchResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, item := range items {
			req := types.SaveRequest{
				Key: item.Key, Value: item.Value, Category: item.Category, Priority: item.Priority,
				Channel: item.Channel, Metadata: item.Metadata, IsPrivate: item.IsPrivate,
			}
			var action string
			err := s.withSavepoint(ctx, tx, func() error {
				if err := validate.Key(item.Key); err != nil {
					return err
				}
				if err := validate.Value(item.Value); err != nil {
					return err
				}
				saved, err := s.saveItemTx(ctx, tx, sessionID, req)
				if err != nil {
					return err
				}
				if saved.CreatedAt.Equal(saved.UpdatedAt) {
					action = "created"
				} else {
					action = "updated"
				}
				return nil
			})
			result.Results = append(result.Results, elementResult(i, item.Key, action, err))
			if err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchUpdate applies fields to every item matched by keys, keyPattern,
// or both (the union of the two selectors), each under its own
// savepoint. Any field left nil in fields is unchanged for that item.
func (s *SQLiteStorage) BatchUpdate(ctx context.Context, sessionID string, keys []string, keyPattern string, fields types.BatchUpdateItem) (*types.BatchResult, error) {
	result := &types.BatchResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		targets, err := s.resolveTargetKeys(ctx, tx, sessionID, keys, keyPattern)
		if err != nil {
			return err
		}
		for i, key := range targets {
			err := s.withSavepoint(ctx, tx, func() error {
				return s.updateItemTx(ctx, tx, sessionID, key, fields)
			})
			result.Results = append(result.Results, elementResult(i, key, "updated", err))
			if err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchDelete deletes every item matched by keys, keyPattern, or channel
// (the union of whichever selectors are non-empty). When dryRun is true
// no row is actually removed; the result reports what would happen,
// with every element's Action set to "skipped".
func (s *SQLiteStorage) BatchDelete(ctx context.Context, sessionID string, keys []string, keyPattern, channel string, dryRun bool) (*types.BatchResult, error) {
	result := &types.BatchResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		targets, err := s.resolveTargetKeys(ctx, tx, sessionID, keys, keyPattern)
		if err != nil {
			return err
		}
		if channel != "" {
			chTargets, err := s.keysInChannel(ctx, tx, sessionID, channel)
			if err != nil {
				return err
			}
			targets = unionKeys(targets, chTargets)
		}
		for i, key := range targets {
			if dryRun {
				result.Results = append(result.Results, types.BatchElementResult{Index: i, Key: key, Success: true, Action: "skipped"})
				result.Succeeded++
				continue
			}
			err := s.withSavepoint(ctx, tx, func() error {
				return s.deleteItemTx(ctx, tx, sessionID, key)
			})
			result.Results = append(result.Results, elementResult(i, key, "deleted", err))
			if err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func elementResult(index int, key, action string, err error) types.BatchElementResult {
	if err != nil {
		return types.BatchElementResult{Index: index, Key: key, Success: false, Error: err.Error()}
	}
	return types.BatchElementResult{Index: index, Key: key, Success: true, Action: action}
}

// resolveTargetKeys returns the union of an explicit key list and every
// key in the session matching keyPattern, deduplicated, in a stable
// order (explicit keys first, then pattern matches in key order).
func (s *SQLiteStorage) resolveTargetKeys(ctx context.Context, tx *sql.Tx, sessionID string, keys []string, keyPattern string) ([]string, error) {
	targets := append([]string{}, keys...)
	if keyPattern == "" {
		return targets, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT key FROM context_items WHERE session_id = ? ORDER BY key ASC`, sessionID)
	if err != nil {
		return nil, errs.WrapDB("list keys for pattern match", err)
	}
	defer func() { _ = rows.Close() }()
	var matched []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errs.WrapDB("scan key row", err)
		}
		if matchGlob(keyPattern, key) {
			matched = append(matched, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapDB("iterate key rows", err)
	}
	return unionKeys(targets, matched), nil
}

func (s *SQLiteStorage) keysInChannel(ctx context.Context, tx *sql.Tx, sessionID, channel string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM context_items WHERE session_id = ? AND channel = ? ORDER BY key ASC`, sessionID, channel)
	if err != nil {
		return nil, errs.WrapDB("list keys in channel", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errs.WrapDB("scan key row", err)
		}
		out = append(out, key)
	}
	return out, errs.WrapDB("iterate channel key rows", rows.Err())
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// updateItemTx applies a partial field update to one item, re-deriving
// size_bytes when value changes and leaving created_at untouched.
func (s *SQLiteStorage) updateItemTx(ctx context.Context, tx *sql.Tx, sessionID, key string, fields types.BatchUpdateItem) error {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return errs.Ef(errs.NotFound, nil, "no item %q in session %q", key, sessionID)
	}
	if err != nil {
		return errs.WrapDBf(err, "look up item %q for update", key)
	}

	if fields.Value != nil {
		item.Value = *fields.Value
		item.SizeBytes = len(*fields.Value)
	}
	if fields.Category != nil {
		if !fields.Category.IsValid() {
			return errs.Ef(errs.InvalidArgument, nil, "unrecognized category %q", *fields.Category)
		}
		item.Category = *fields.Category
	}
	if fields.Priority != nil {
		if !fields.Priority.IsValid() {
			return errs.Ef(errs.InvalidArgument, nil, "unrecognized priority %q", *fields.Priority)
		}
		item.Priority = *fields.Priority
	}
	if fields.Channel != nil {
		item.Channel = *fields.Channel
	}
	if fields.Metadata != nil {
		item.Metadata = fields.Metadata
	}
	item.UpdatedAt = time.Now()

	metadata, err := marshalMetadata(item.Metadata)
	if err != nil {
		return errs.Ef(errs.InvalidArgument, err, "invalid metadata")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE context_items SET value = ?, category = ?, priority = ?, channel = ?, metadata = ?, size_bytes = ?, updated_at = ?
		WHERE session_id = ? AND key = ?
	`, item.Value, string(item.Category), string(item.Priority), item.Channel, metadata, item.SizeBytes,
		formatTime(item.UpdatedAt), sessionID, key)
	if err != nil {
		return errs.WrapDBf(err, "update item %q", key)
	}

	s.publish(storage.ChangeEvent{Type: "updated", Item: item, Occurred: item.UpdatedAt})
	return s.appendChangeLog(ctx, tx, "updated", item, item.UpdatedAt)
}

// ReassignChannel moves every item matched by keys/keyPattern/fromChannel
// (intersected, not unioned: fromChannel narrows whichever key selector
// was given, or selects every item in that channel if no keys were
// given) into toChannel, optionally filtered further by category and
// priority. With dryRun true, no row is changed; the matched keys are
// still returned.
func (s *SQLiteStorage) ReassignChannel(ctx context.Context, sessionID string, keys []string, keyPattern, fromChannel, toChannel string, category *types.Category, priority *types.Priority, dryRun bool) ([]string, error) {
	if err := validateChannelName(toChannel); err != nil {
		return nil, err
	}
	var matched []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		candidates, err := s.resolveTargetKeys(ctx, tx, sessionID, keys, keyPattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 && keyPattern == "" && fromChannel != "" {
			candidates, err = s.keysInChannel(ctx, tx, sessionID, fromChannel)
			if err != nil {
				return err
			}
		}
		for _, key := range candidates {
			row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key)
			item, err := scanItem(row)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return errs.WrapDBf(err, "look up item %q for reassign", key)
			}
			if fromChannel != "" && item.Channel != fromChannel {
				continue
			}
			if category != nil && item.Category != *category {
				continue
			}
			if priority != nil && item.Priority != *priority {
				continue
			}
			matched = append(matched, key)
			if dryRun {
				continue
			}
			now := time.Now()
			if _, err := tx.ExecContext(ctx, `UPDATE context_items SET channel = ?, updated_at = ? WHERE session_id = ? AND key = ?`,
				toChannel, formatTime(now), sessionID, key); err != nil {
				return errs.WrapDBf(err, "reassign channel for %q", key)
			}
			item.Channel = toChannel
			item.UpdatedAt = now
			s.publish(storage.ChangeEvent{Type: "updated", Item: item, Occurred: now})
			if err := s.appendChangeLog(ctx, tx, "updated", item, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func validateChannelName(ch string) error {
	if ch == "" {
		return errs.E(errs.InvalidArgument, nil, "target channel must not be empty")
	}
	return nil
}

// CopyBetweenSessions copies every item from sourceSessionID into
// targetSessionID, skipping (not overwriting) any key already present
// in the target. Returns the number of items actually copied.
func (s *SQLiteStorage) CopyBetweenSessions(ctx context.Context, sourceSessionID, targetSessionID string) (int, error) {
	copied := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM context_items WHERE session_id = ?`, sourceSessionID)
		if err != nil {
			return errs.WrapDB("read source session items", err)
		}
		var items []*types.ContextItem
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				_ = rows.Close()
				return errs.WrapDB("scan source item row", err)
			}
			items = append(items, it)
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return errs.WrapDB("iterate source item rows", err)
		}
		if closeErr != nil {
			return errs.WrapDB("close source item rows", closeErr)
		}

		for _, it := range items {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM context_items WHERE session_id = ? AND key = ?`, targetSessionID, it.Key).Scan(&exists)
			if err == nil {
				continue // already present in target; skip rather than overwrite
			}
			if err != sql.ErrNoRows {
				return errs.WrapDBf(err, "check target item %q", it.Key)
			}
			metadata, err := marshalMetadata(it.Metadata)
			if err != nil {
				return errs.Ef(errs.InvalidArgument, err, "invalid metadata")
			}
			now := time.Now()
			newItem := &types.ContextItem{
				ID: uuid.NewString(), SessionID: targetSessionID, Key: it.Key, Value: it.Value, Category: it.Category,
				Priority: it.Priority, Channel: it.Channel, Metadata: it.Metadata, SizeBytes: it.SizeBytes,
				IsPrivate: it.IsPrivate, CreatedAt: now, UpdatedAt: now,
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size_bytes, is_private, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, newItem.ID, newItem.SessionID, newItem.Key, newItem.Value, string(newItem.Category), string(newItem.Priority),
				newItem.Channel, metadata, newItem.SizeBytes, boolToInt(newItem.IsPrivate), formatTime(now), formatTime(now))
			if err != nil {
				return errs.WrapDBf(err, "copy item %q", it.Key)
			}
			s.publish(storage.ChangeEvent{Type: "created", Item: newItem, Occurred: now})
			if err := s.appendChangeLog(ctx, tx, "created", newItem, now); err != nil {
				return err
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

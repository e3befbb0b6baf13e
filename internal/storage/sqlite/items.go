package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/ctxkeeper/ctxkeeper/internal/validate"
	"github.com/google/uuid"
)

const itemColumns = `id, session_id, key, value, category, priority, channel, metadata, size_bytes, is_private, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*types.ContextItem, error) {
	var it types.ContextItem
	var category, metadata string
	var priority string
	var isPrivate int
	var createdAt, updatedAt string
	if err := row.Scan(&it.ID, &it.SessionID, &it.Key, &it.Value, &category, &priority, &it.Channel,
		&metadata, &it.SizeBytes, &isPrivate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.Category = types.Category(category)
	it.Priority = types.Priority(priority)
	it.Metadata = unmarshalMetadata(metadata)
	it.IsPrivate = isPrivate != 0
	it.CreatedAt = parseTimeString(createdAt)
	it.UpdatedAt = parseTimeString(updatedAt)
	return &it, nil
}

// resolveChannel implements spec.md §4.5.1's channel default rule: an
// explicit channel wins, else the session's default_channel, else
// "general".
func (s *SQLiteStorage) resolveChannel(ctx context.Context, tx dbtx, sessionID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	var def string
	err := tx.QueryRowContext(ctx, `SELECT default_channel FROM sessions WHERE id = ?`, sessionID).Scan(&def)
	if err != nil && err != sql.ErrNoRows {
		return "", errs.WrapDB("resolve default channel", err)
	}
	if def == "" {
		return "general", nil
	}
	return def, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SaveItem validates and upserts one context item on (session_id, key).
func (s *SQLiteStorage) SaveItem(ctx context.Context, sessionID string, req types.SaveRequest) (*types.ContextItem, error) {
	if err := validate.Key(req.Key); err != nil {
		return nil, err
	}
	if err := validate.Value(req.Value); err != nil {
		return nil, err
	}

	var item *types.ContextItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		it, err := s.saveItemTx(ctx, tx, sessionID, req)
		if err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLiteStorage) saveItemTx(ctx context.Context, tx *sql.Tx, sessionID string, req types.SaveRequest) (*types.ContextItem, error) {
	channel, err := s.resolveChannel(ctx, tx, sessionID, req.Channel)
	if err != nil {
		return nil, err
	}
	if err := validate.Channel(channel); err != nil {
		return nil, err
	}

	category := types.Category("")
	if req.Category != nil {
		category = *req.Category
		if !category.IsValid() {
			return nil, errs.Ef(errs.InvalidArgument, nil, "unrecognized category %q", category)
		}
	}
	priority := types.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
		if !priority.IsValid() {
			return nil, errs.Ef(errs.InvalidArgument, nil, "unrecognized priority %q", priority)
		}
	}
	isPrivate := false
	if req.IsPrivate != nil {
		isPrivate = *req.IsPrivate
	}
	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return nil, errs.Ef(errs.InvalidArgument, err, "invalid metadata")
	}

	now := time.Now()
	size := len(req.Value)

	var existingID string
	var createdAt string
	lookupErr := tx.QueryRowContext(ctx, `SELECT id, created_at FROM context_items WHERE session_id = ? AND key = ?`,
		sessionID, req.Key).Scan(&existingID, &createdAt)

	eventType := "created"
	id := existingID
	created := now
	if lookupErr == sql.ErrNoRows {
		id = uuid.NewString()
	} else if lookupErr != nil {
		return nil, errs.WrapDB("look up existing item", lookupErr)
	} else {
		eventType = "updated"
		created = parseTimeString(createdAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size_bytes, is_private, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, key) DO UPDATE SET
			value = excluded.value, category = excluded.category, priority = excluded.priority,
			channel = excluded.channel, metadata = excluded.metadata, size_bytes = excluded.size_bytes,
			is_private = excluded.is_private, updated_at = excluded.updated_at
	`, id, sessionID, req.Key, req.Value, string(category), string(priority), channel, metadata, size,
		boolToInt(isPrivate), formatTime(created), formatTime(now))
	if err != nil {
		return nil, errs.WrapDBf(err, "save item %q", req.Key)
	}

	item := &types.ContextItem{
		ID: id, SessionID: sessionID, Key: req.Key, Value: req.Value, Category: category,
		Priority: priority, Channel: channel, Metadata: req.Metadata, SizeBytes: size,
		IsPrivate: isPrivate, CreatedAt: created, UpdatedAt: now,
	}
	s.publish(storage.ChangeEvent{Type: eventType, Item: item, Occurred: now})
	if err := s.appendChangeLog(ctx, tx, eventType, item, now); err != nil {
		return nil, err
	}
	return item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetItem implements the privacy-aware get-by-key of spec.md §4.5.4: the
// viewer's own item wins; absent that, the most recent public item with
// that key owned by any other session.
func (s *SQLiteStorage) GetItem(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?
	`, viewerSessionID, key)
	item, err := scanItem(row)
	if err == nil {
		return item, nil
	}
	if err != sql.ErrNoRows {
		return nil, errs.WrapDBf(err, "get item %q", key)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM context_items
		WHERE key = ? AND is_private = 0
		ORDER BY created_at DESC LIMIT 1
	`, key)
	item, err = scanItem(row)
	if err != nil {
		return nil, errs.WrapDBf(err, "get item %q", key)
	}
	return item, nil
}

// DeleteItem deletes one item by key, cascading relationship deletion.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, sessionID, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteItemTx(ctx, tx, sessionID, key)
	})
}

func (s *SQLiteStorage) deleteItemTx(ctx context.Context, tx *sql.Tx, sessionID, key string) error {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return errs.Ef(errs.NotFound, nil, "no item %q in session %q", key, sessionID)
	}
	if err != nil {
		return errs.WrapDBf(err, "look up item %q for delete", key)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key); err != nil {
		return errs.WrapDBf(err, "delete item %q", key)
	}
	if err := s.deleteRelationshipsForKeyTx(ctx, tx, sessionID, key); err != nil {
		return err
	}
	now := time.Now()
	s.publish(storage.ChangeEvent{Type: "deleted", Item: item, Occurred: now})
	return s.appendChangeLog(ctx, tx, "deleted", item, now)
}

// matchGlob reports whether key matches the spec's glob syntax (*, ?),
// used against candidate rows already loaded in memory so batch
// operations get doublestar's exact semantics rather than SQL LIKE's.
func matchGlob(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	if err != nil {
		return false
	}
	return ok
}

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/google/uuid"
)

const relationshipColumns = `id, session_id, from_key, to_key, type, metadata, created_at`

func scanRelationship(row interface{ Scan(...any) error }) (*types.Relationship, error) {
	var rel types.Relationship
	var relType, metadata, createdAt string
	if err := row.Scan(&rel.ID, &rel.SessionID, &rel.FromKey, &rel.ToKey, &relType, &metadata, &createdAt); err != nil {
		return nil, err
	}
	rel.Type = types.RelationType(relType)
	rel.Metadata = unmarshalMetadata(metadata)
	rel.CreatedAt = parseTimeString(createdAt)
	return &rel, nil
}

// Link creates a typed, directed edge between two keys within one
// session. Both keys must already exist; re-linking the same
// (from, to, type) triple updates its metadata rather than erroring,
// since the underlying unique index treats it as the same edge.
func (s *SQLiteStorage) Link(ctx context.Context, sessionID, fromKey, toKey string, relType types.RelationType, metadata map[string]any) (*types.Relationship, error) {
	if !relType.IsValid() {
		return nil, errs.Ef(errs.InvalidArgument, nil, "unrecognized relationship type %q", relType)
	}
	for _, key := range []string{fromKey, toKey} {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM context_items WHERE session_id = ? AND key = ?`, sessionID, key).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, errs.Ef(errs.NotFound, nil, "no item %q in session %q", key, sessionID)
		}
		if err != nil {
			return nil, errs.WrapDBf(err, "look up item %q for link", key)
		}
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, errs.Ef(errs.InvalidArgument, err, "invalid metadata")
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_relationships (id, session_id, from_key, to_key, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, from_key, to_key, type) DO UPDATE SET metadata = excluded.metadata
	`, id, sessionID, fromKey, toKey, string(relType), meta, formatTime(now))
	if err != nil {
		return nil, errs.WrapDBf(err, "link %q -> %q", fromKey, toKey)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM context_relationships WHERE session_id = ? AND from_key = ? AND to_key = ? AND type = ?`,
		sessionID, fromKey, toKey, string(relType))
	rel, err := scanRelationship(row)
	if err != nil {
		return nil, errs.WrapDB("read back relationship", err)
	}
	return rel, nil
}

// GetRelationships returns every edge touching key: outgoing (key is
// from_key) and incoming (key is to_key) separately, so callers such as
// the relationship graph can distinguish direction without re-parsing.
func (s *SQLiteStorage) GetRelationships(ctx context.Context, sessionID, key string) ([]*types.Relationship, []*types.Relationship, error) {
	outgoing, err := s.queryRelationships(ctx, `SELECT `+relationshipColumns+` FROM context_relationships WHERE session_id = ? AND from_key = ?`, sessionID, key)
	if err != nil {
		return nil, nil, err
	}
	incoming, err := s.queryRelationships(ctx, `SELECT `+relationshipColumns+` FROM context_relationships WHERE session_id = ? AND to_key = ?`, sessionID, key)
	if err != nil {
		return nil, nil, err
	}
	return outgoing, incoming, nil
}

// AllRelationships returns every edge in a session, used by the
// relationship graph to build its adjacency representation in one pass.
func (s *SQLiteStorage) AllRelationships(ctx context.Context, sessionID string) ([]*types.Relationship, error) {
	return s.queryRelationships(ctx, `SELECT `+relationshipColumns+` FROM context_relationships WHERE session_id = ?`, sessionID)
}

func (s *SQLiteStorage) queryRelationships(ctx context.Context, query string, args ...any) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.WrapDB("query relationships", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, errs.WrapDB("scan relationship row", err)
		}
		out = append(out, rel)
	}
	return out, errs.WrapDB("iterate relationship rows", rows.Err())
}

// DeleteRelationshipsForKey removes every edge touching key, in either
// direction, in its own transaction. Used directly by the unlink tool
// and internally (via deleteRelationshipsForKeyTx) when an item is
// deleted.
func (s *SQLiteStorage) DeleteRelationshipsForKey(ctx context.Context, sessionID, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteRelationshipsForKeyTx(ctx, tx, sessionID, key)
	})
}

func (s *SQLiteStorage) deleteRelationshipsForKeyTx(ctx context.Context, tx *sql.Tx, sessionID, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM context_relationships WHERE session_id = ? AND (from_key = ? OR to_key = ?)`,
		sessionID, key, key)
	return errs.WrapDBf(err, "cascade-delete relationships for %q", key)
}

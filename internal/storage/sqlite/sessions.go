package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// CreateSession inserts a new session row. Callers (internal/session) are
// responsible for generating s.ID and resolving DefaultChannel before
// calling this; sessions are never deleted, so there is no DeleteSession.
func (s *SQLiteStorage) CreateSession(ctx context.Context, sess *types.Session) error {
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, description, git_branch, working_dir, parent_id, default_channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.Description, sess.GitBranch, sess.WorkingDir, sess.ParentID, sess.DefaultChannel,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	return errs.WrapDB("create session", err)
}

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var sess types.Session
	var createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.Name, &sess.Description, &sess.GitBranch, &sess.WorkingDir,
		&sess.ParentID, &sess.DefaultChannel, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTimeString(createdAt)
	sess.UpdatedAt = parseTimeString(updatedAt)
	return &sess, nil
}

const sessionColumns = `id, name, description, git_branch, working_dir, parent_id, default_channel, created_at, updated_at`

// GetSession retrieves a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, errs.WrapDBf(err, "get session %q", id)
	}
	return sess, nil
}

// ListSessions returns the most recently created sessions first, up to
// limit (0 or negative means unlimited).
func (s *SQLiteStorage) ListSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, errs.WrapDB("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errs.WrapDB("scan session row", err)
		}
		out = append(out, sess)
	}
	return out, errs.WrapDB("iterate session rows", rows.Err())
}

// UpdateSession mutates name/description/default_channel; any nil
// argument leaves that field unchanged. Returns the updated row.
func (s *SQLiteStorage) UpdateSession(ctx context.Context, id string, name, description, defaultChannel *string) (*types.Session, error) {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		current.Name = *name
	}
	if description != nil {
		current.Description = *description
	}
	if defaultChannel != nil {
		current.DefaultChannel = *defaultChannel
	}
	current.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, description = ?, default_channel = ?, updated_at = ?
		WHERE id = ?
	`, current.Name, current.Description, current.DefaultChannel, formatTime(current.UpdatedAt), id)
	if err != nil {
		return nil, errs.WrapDBf(err, "update session %q", id)
	}
	return current, nil
}

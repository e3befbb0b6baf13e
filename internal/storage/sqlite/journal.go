package sqlite

import (
	"context"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/google/uuid"
)

// AppendJournal records one tool invocation for the timeline operation.
// The journal is append-only: there is no corresponding delete or update.
func (s *SQLiteStorage) AppendJournal(ctx context.Context, sessionID, tool, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (id, session_id, tool, summary, created_at) VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, tool, summary, formatTime(time.Now()))
	return errs.WrapDBf(err, "append journal entry for tool %q", tool)
}

// Timeline returns a session's most recent journal entries first, up to
// limit (0 or negative means unlimited).
func (s *SQLiteStorage) Timeline(ctx context.Context, sessionID string, limit int) ([]*types.JournalEntry, error) {
	query := `SELECT id, session_id, tool, summary, created_at FROM journal_entries WHERE session_id = ? ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.WrapDB("read timeline", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.JournalEntry
	for rows.Next() {
		var e types.JournalEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tool, &e.Summary, &createdAt); err != nil {
			return nil, errs.WrapDB("scan journal row", err)
		}
		e.CreatedAt = parseTimeString(createdAt)
		out = append(out, &e)
	}
	return out, errs.WrapDB("iterate journal rows", rows.Err())
}

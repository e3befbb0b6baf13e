package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/google/uuid"
)

// CreateCheckpoint records every current item (and cached file) in a
// session by writing their IDs into checkpoint_items/checkpoint_files.
// Only the IDs are stored, not the item values: CheckpointItems reads the
// items table by ID when the checkpoint is used, so an item updated in
// place after the checkpoint comes back with its updated value.
func (s *SQLiteStorage) CreateCheckpoint(ctx context.Context, sessionID, name, description, gitStatus, gitBranch string) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{
		ID: uuid.NewString(), SessionID: sessionID, Name: name, Description: description,
		GitStatus: gitStatus, GitBranch: gitBranch,
	}
	createdAt := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(createdAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, session_id, name, description, git_status, git_branch, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, cp.ID, sessionID, name, description, gitStatus, gitBranch, now); err != nil {
			return errs.WrapDBf(err, "create checkpoint %q", name)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM context_items WHERE session_id = ?`, sessionID)
		if err != nil {
			return errs.WrapDB("list items for checkpoint", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var itemID string
			if err := rows.Scan(&itemID); err != nil {
				return errs.WrapDB("scan item id for checkpoint", err)
			}
			cp.ItemIDs = append(cp.ItemIDs, itemID)
			if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoint_items (checkpoint_id, item_id) VALUES (?, ?)`, cp.ID, itemID); err != nil {
				return errs.WrapDB("record checkpoint item", err)
			}
		}
		if err := rows.Err(); err != nil {
			return errs.WrapDB("iterate items for checkpoint", err)
		}

		fileRows, err := tx.QueryContext(ctx, `SELECT id FROM file_cache WHERE session_id = ?`, sessionID)
		if err != nil {
			return errs.WrapDB("list files for checkpoint", err)
		}
		defer func() { _ = fileRows.Close() }()
		for fileRows.Next() {
			var fileID string
			if err := fileRows.Scan(&fileID); err != nil {
				return errs.WrapDB("scan file id for checkpoint", err)
			}
			cp.FileIDs = append(cp.FileIDs, fileID)
			if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoint_files (checkpoint_id, file_id) VALUES (?, ?)`, cp.ID, fileID); err != nil {
				return errs.WrapDB("record checkpoint file", err)
			}
		}
		return errs.WrapDB("iterate files for checkpoint", fileRows.Err())
	})
	if err != nil {
		return nil, err
	}
	cp.CreatedAt = createdAt
	return cp, nil
}

// GetCheckpoint loads a checkpoint's metadata and member IDs.
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, description, git_status, git_branch, created_at FROM checkpoints WHERE id = ?
	`, id).Scan(&cp.ID, &cp.SessionID, &cp.Name, &cp.Description, &cp.GitStatus, &cp.GitBranch, &createdAt)
	if err != nil {
		return nil, errs.WrapDBf(err, "get checkpoint %q", id)
	}
	cp.CreatedAt = parseTimeString(createdAt)

	itemIDs, err := s.scanStrings(ctx, `SELECT item_id FROM checkpoint_items WHERE checkpoint_id = ?`, id)
	if err != nil {
		return nil, err
	}
	cp.ItemIDs = itemIDs

	fileIDs, err := s.scanStrings(ctx, `SELECT file_id FROM checkpoint_files WHERE checkpoint_id = ?`, id)
	if err != nil {
		return nil, err
	}
	cp.FileIDs = fileIDs
	return &cp, nil
}

// CheckpointItems resolves a checkpoint's member IDs back to the
// context_items rows that still exist; an item deleted after the
// checkpoint was taken is silently omitted rather than erroring, so
// restore degrades gracefully instead of failing outright.
func (s *SQLiteStorage) CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify("i", itemColumns)+`
		FROM checkpoint_items c JOIN context_items i ON i.id = c.item_id
		WHERE c.checkpoint_id = ?
		ORDER BY i.key ASC
	`, checkpointID)
	if err != nil {
		return nil, errs.WrapDB("read checkpoint items", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errs.WrapDB("scan checkpoint item row", err)
		}
		out = append(out, it)
	}
	return out, errs.WrapDB("iterate checkpoint item rows", rows.Err())
}

func (s *SQLiteStorage) scanStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.WrapDB("query id list", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errs.WrapDB("scan id", err)
		}
		out = append(out, v)
	}
	return out, errs.WrapDB("iterate id rows", rows.Err())
}

// qualify prefixes every column in a comma-separated list with alias.,
// so itemColumns can be reused against a query that joins context_items
// under an alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}

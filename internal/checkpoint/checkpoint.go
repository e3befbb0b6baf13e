// Package checkpoint orchestrates the checkpoint/branch/merge/restore
// lifecycle (spec.md §4.7) atop internal/storage and internal/session.
// A checkpoint records which items a session held, by ID; branch and
// merge are built from it rather than duplicating that logic.
package checkpoint

import (
	"context"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/session"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// MergeStrategy selects how Merge resolves a key present in both the
// target session and the branch being merged in.
type MergeStrategy string

const (
	KeepCurrent MergeStrategy = "keep_current"
	KeepSource  MergeStrategy = "keep_source"
	KeepNewest  MergeStrategy = "keep_newest"
)

// checkpointStore is the narrow slice of storage.Storage the manager
// needs, accepted as an interface so tests can supply a fake.
type checkpointStore interface {
	CreateCheckpoint(ctx context.Context, sessionID, name, description, gitStatus, gitBranch string) (*types.Checkpoint, error)
	CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error)
	GetItem(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error)
	SaveItem(ctx context.Context, sessionID string, req types.SaveRequest) (*types.ContextItem, error)
}

// Manager orchestrates checkpoint operations.
type Manager struct {
	store    checkpointStore
	sessions *session.Manager
}

// New constructs a Manager.
func New(store checkpointStore, sessions *session.Manager) *Manager {
	return &Manager{store: store, sessions: sessions}
}

// Create snapshots the named session's current items (and cached files).
func (m *Manager) Create(ctx context.Context, sessionID, name, description, gitStatus, gitBranch string) (*types.Checkpoint, error) {
	if name == "" {
		return nil, errs.E(errs.InvalidArgument, nil, "checkpoint name must not be empty")
	}
	return m.store.CreateCheckpoint(ctx, sessionID, name, description, gitStatus, gitBranch)
}

// Restore re-saves into liveSessionID every item CheckpointItems returns
// for the checkpoint: the current stored row of each item the checkpoint
// recorded, so values are not frozen at checkpoint time and items deleted
// since are skipped. Any item created in liveSessionID after the
// checkpoint is left alone rather than deleted.
func (m *Manager) Restore(ctx context.Context, checkpointID, liveSessionID string) (int, error) {
	items, err := m.store.CheckpointItems(ctx, checkpointID)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, it := range items {
		req := types.SaveRequest{
			Key: it.Key, Value: it.Value, Category: &it.Category, Priority: &it.Priority,
			Channel: it.Channel, Metadata: it.Metadata, IsPrivate: &it.IsPrivate,
		}
		if _, err := m.store.SaveItem(ctx, liveSessionID, req); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// Branch creates a new session whose ParentID is sourceSessionID and
// copies every item from the given checkpoint (or, if checkpointID is
// empty, the source session's live items) into it.
func (m *Manager) Branch(ctx context.Context, sourceSessionID, checkpointID, branchName, gitBranch string) (*types.Session, int, error) {
	source, err := m.store.GetSession(ctx, sourceSessionID)
	if err != nil {
		return nil, 0, err
	}

	child, err := m.sessions.Create(ctx, session.CreateOptions{
		Name:           branchName,
		Description:    "branched from " + source.Name,
		GitBranch:      gitBranch,
		WorkingDir:     source.WorkingDir,
		ParentID:       source.ID,
		DefaultChannel: source.DefaultChannel,
	})
	if err != nil {
		return nil, 0, err
	}

	var items []*types.ContextItem
	if checkpointID != "" {
		items, err = m.store.CheckpointItems(ctx, checkpointID)
	} else {
		result, searchErr := m.store.Search(ctx, types.SearchFilter{SessionID: sourceSessionID, Limit: types.IntPtr(0)})
		if searchErr != nil {
			return child, 0, searchErr
		}
		items = result.Items
		err = nil
	}
	if err != nil {
		return child, 0, err
	}

	copied := 0
	for _, it := range items {
		if it.SessionID != sourceSessionID && checkpointID == "" {
			continue
		}
		req := types.SaveRequest{
			Key: it.Key, Value: it.Value, Category: &it.Category, Priority: &it.Priority,
			Channel: it.Channel, Metadata: it.Metadata, IsPrivate: &it.IsPrivate,
		}
		if _, err := m.store.SaveItem(ctx, child.ID, req); err != nil {
			return child, copied, err
		}
		copied++
	}
	return child, copied, nil
}

// Merge folds sourceSessionID's items into targetSessionID. For a key
// present in both, strategy decides the winner; for a key present only
// in source, it is always copied in.
func (m *Manager) Merge(ctx context.Context, sourceSessionID, targetSessionID string, strategy MergeStrategy) (int, int, error) {
	sourceResult, err := m.store.Search(ctx, types.SearchFilter{SessionID: sourceSessionID, Limit: types.IntPtr(0)})
	if err != nil {
		return 0, 0, err
	}
	merged, conflicts := 0, 0
	for _, srcItem := range sourceResult.Items {
		if srcItem.SessionID != sourceSessionID {
			continue
		}
		existing, err := m.store.GetItem(ctx, targetSessionID, srcItem.Key)
		hasExisting := err == nil && existing.SessionID == targetSessionID
		if hasExisting {
			conflicts++
			winner, keep := resolve(strategy, existing, srcItem)
			if !keep {
				continue
			}
			srcItem = winner
		}
		req := types.SaveRequest{
			Key: srcItem.Key, Value: srcItem.Value, Category: &srcItem.Category, Priority: &srcItem.Priority,
			Channel: srcItem.Channel, Metadata: srcItem.Metadata, IsPrivate: &srcItem.IsPrivate,
		}
		if _, err := m.store.SaveItem(ctx, targetSessionID, req); err != nil {
			return merged, conflicts, err
		}
		merged++
	}
	return merged, conflicts, nil
}

// resolve applies strategy to a conflicting key, returning the winning
// item and whether the target's copy should be overwritten at all
// (KeepCurrent never overwrites).
func resolve(strategy MergeStrategy, current, source *types.ContextItem) (*types.ContextItem, bool) {
	switch strategy {
	case KeepSource:
		return source, true
	case KeepNewest:
		if source.UpdatedAt.After(current.UpdatedAt) {
			return source, true
		}
		return current, false
	default: // KeepCurrent
		return current, false
	}
}

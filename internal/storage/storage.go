// Package storage defines the interface for the context store's backing
// engine. The only implementation in this repository is the embedded
// WAL-mode SQLite driver in internal/storage/sqlite, but the interface
// keeps the rest of the system decoupled from that choice, the way the
// teacher's storage.Storage interface decouples issue-tracking business
// logic from its SQLite/Dolt backends.
package storage

import (
	"context"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// ChangeEvent is published to the watcher subsystem whenever a mutation
// writes an item, and is also read back from the durable change log by
// ChangesSince. It carries enough of the written row to evaluate a
// watcher's filter without a second read.
type ChangeEvent struct {
	Sequence  int64
	Type      string // "created", "updated", "deleted"
	Item      *types.ContextItem
	Occurred  time.Time
}

// Storage is the full contract the context repository, session manager,
// relationship graph, checkpoint/branch/merge lifecycle, and compression
// engine are built against.
type Storage interface {
	Close() error

	// Sessions
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*types.Session, error)
	UpdateSession(ctx context.Context, id string, name, description, defaultChannel *string) (*types.Session, error)

	// Context items
	SaveItem(ctx context.Context, sessionID string, req types.SaveRequest) (*types.ContextItem, error)
	GetItem(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error)
	DeleteItem(ctx context.Context, sessionID, key string) error
	BatchSave(ctx context.Context, sessionID string, items []types.BatchSaveItem) (*types.BatchResult, error)
	BatchUpdate(ctx context.Context, sessionID string, keys []string, keyPattern string, fields types.BatchUpdateItem) (*types.BatchResult, error)
	BatchDelete(ctx context.Context, sessionID string, keys []string, keyPattern, channel string, dryRun bool) (*types.BatchResult, error)
	Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error)
	ReassignChannel(ctx context.Context, sessionID string, keys []string, keyPattern, fromChannel, toChannel string, category *types.Category, priority *types.Priority, dryRun bool) ([]string, error)
	CopyBetweenSessions(ctx context.Context, sourceSessionID, targetSessionID string) (int, error)

	// Relationships
	Link(ctx context.Context, sessionID, fromKey, toKey string, relType types.RelationType, metadata map[string]any) (*types.Relationship, error)
	GetRelationships(ctx context.Context, sessionID, key string) (outgoing, incoming []*types.Relationship, err error)
	DeleteRelationshipsForKey(ctx context.Context, sessionID, key string) error
	AllRelationships(ctx context.Context, sessionID string) ([]*types.Relationship, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, sessionID, name, description, gitStatus, gitBranch string) (*types.Checkpoint, error)
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
	CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error)

	// Compression
	ItemsOlderThan(ctx context.Context, sessionID string, olderThan time.Time, preserveCategories []types.Category) ([]*types.ContextItem, error)
	DeleteItemsByID(ctx context.Context, ids []string) error
	SaveCompressedBucket(ctx context.Context, bucket *types.CompressedBucket) error

	// Journal
	AppendJournal(ctx context.Context, sessionID, tool, summary string) error
	Timeline(ctx context.Context, sessionID string, limit int) ([]*types.JournalEntry, error)

	// Watcher support: a monotonic, durable high-water mark and a way to
	// read committed changes since a given sequence number.
	CurrentSequence(ctx context.Context) (int64, error)
	ChangesSince(ctx context.Context, since int64, limit int) ([]ChangeEvent, error)
	Subscribe() (<-chan ChangeEvent, func())

	// DatabaseSizeBytes reports the current on-disk size, used to enforce
	// the ResourceExhausted limit in the storage driver (spec.md §4.1).
	DatabaseSizeBytes(ctx context.Context) (int64, error)

	// Stat reports the last time the database file was observed to
	// change on disk, for the db_status administrative tool.
	Stat() (observed bool, lastWrite time.Time)
}

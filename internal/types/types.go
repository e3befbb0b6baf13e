// Package types defines the core data model shared by every component of
// the context store: sessions, context items, channels, relationships,
// checkpoints, and the append-only journal/compression/tool-event records.
package types

import "time"

// Category is a closed classification for a ContextItem.
type Category string

const (
	CategoryTask     Category = "task"
	CategoryDecision Category = "decision"
	CategoryProgress Category = "progress"
	CategoryNote     Category = "note"
	CategoryError    Category = "error"
	CategoryWarning  Category = "warning"
	CategoryGit      Category = "git"
	CategorySystem   Category = "system"
)

// ValidCategories lists every recognized category, in declaration order.
var ValidCategories = []Category{
	CategoryTask, CategoryDecision, CategoryProgress, CategoryNote,
	CategoryError, CategoryWarning, CategoryGit, CategorySystem,
}

// IsValid reports whether c is one of the closed set of categories.
func (c Category) IsValid() bool {
	for _, v := range ValidCategories {
		if c == v {
			return true
		}
	}
	return false
}

// Priority is a closed three-level priority for a ContextItem.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ValidPriorities lists every recognized priority, in declaration order.
var ValidPriorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// IsValid reports whether p is one of the closed set of priorities.
func (p Priority) IsValid() bool {
	for _, v := range ValidPriorities {
		if p == v {
			return true
		}
	}
	return false
}

// priorityRank gives the sort weight used by the "priority" sort option:
// high first, then normal, then low.
var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityNormal: 1,
	PriorityLow:    2,
}

// Rank returns the sort weight for the priority sort option.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// RelationType is the closed set of relationship edge types.
type RelationType string

const (
	RelContains   RelationType = "contains"
	RelDependsOn  RelationType = "depends_on"
	RelReferences RelationType = "references"
	RelImplements RelationType = "implements"
	RelExtends    RelationType = "extends"
	RelRelatedTo  RelationType = "related_to"
	RelBlocks     RelationType = "blocks"
	RelBlockedBy  RelationType = "blocked_by"
	RelParentOf   RelationType = "parent_of"
	RelChildOf    RelationType = "child_of"
)

// ValidRelationTypes lists every recognized relationship type.
var ValidRelationTypes = []RelationType{
	RelContains, RelDependsOn, RelReferences, RelImplements, RelExtends,
	RelRelatedTo, RelBlocks, RelBlockedBy, RelParentOf, RelChildOf,
}

// IsValid reports whether t is one of the closed set of relationship types.
func (t RelationType) IsValid() bool {
	for _, v := range ValidRelationTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Session is a named container for related context items and their
// derived artifacts. Sessions are never deleted; lineage is preserved
// via ParentID.
type Session struct {
	ID             string
	Name           string
	Description    string
	GitBranch      string
	WorkingDir     string
	ParentID       string
	DefaultChannel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContextItem is a single keyed piece of memory, unique per (SessionID, Key).
type ContextItem struct {
	ID         string
	SessionID  string
	Key        string
	Value      string
	Category   Category
	Priority   Priority
	Channel    string
	Metadata   map[string]any
	SizeBytes  int
	IsPrivate  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Relationship is a typed, directed edge between two keys within one session.
type Relationship struct {
	ID        string
	SessionID string
	FromKey   string
	ToKey     string
	Type      RelationType
	Metadata  map[string]any
	CreatedAt time.Time
}

// Checkpoint is an immutable named snapshot of a session's context items
// (and optionally its cached files) at a point in time.
type Checkpoint struct {
	ID          string
	SessionID   string
	Name        string
	Description string
	GitStatus   string
	GitBranch   string
	ItemIDs     []string
	FileIDs     []string
	CreatedAt   time.Time
}

// JournalEntry is an append-only record of a tool invocation, kept for
// the `timeline` operation.
type JournalEntry struct {
	ID        string
	SessionID string
	Tool      string
	Summary   string
	CreatedAt time.Time
}

// CompressedBucket is a retained summary of items deleted by the
// compression engine, grouped by category.
type CompressedBucket struct {
	ID              string
	SessionID       string
	Category        Category
	Count           int
	PriorityCounts  map[Priority]int
	Keys            []string
	Sample          []string
	OriginalBytes   int
	CompressedBytes int
	Ratio           float64
	RangeStart      time.Time
	RangeEnd        time.Time
	CreatedAt       time.Time
}

// ToolEvent is an append-only audit record of a mutating operation.
type ToolEvent struct {
	ID        string
	SessionID string
	Tool      string
	Summary   string
	CreatedAt time.Time
}

// SearchIn restricts a textual query to keys, values, or both.
type SearchIn string

const (
	SearchInKey   SearchIn = "key"
	SearchInValue SearchIn = "value"
	SearchInBoth  SearchIn = "both"
)

// SortOrder is one of the recognized result orderings for the search engine.
type SortOrder string

const (
	SortCreatedDesc SortOrder = "created_desc"
	SortCreatedAsc  SortOrder = "created_asc"
	SortUpdatedDesc SortOrder = "updated_desc"
	SortUpdatedAsc  SortOrder = "updated_asc"
	SortKeyAsc      SortOrder = "key_asc"
	SortKeyDesc     SortOrder = "key_desc"
	SortPriority    SortOrder = "priority"
)

// IsValid reports whether s is a recognized sort order.
func (s SortOrder) IsValid() bool {
	switch s {
	case SortCreatedDesc, SortCreatedAsc, SortUpdatedDesc, SortUpdatedAsc,
		SortKeyAsc, SortKeyDesc, SortPriority:
		return true
	}
	return false
}

// DefaultsApplied records which query options fell back to their default
// value, surfaced to callers in the pagination envelope.
type DefaultsApplied struct {
	Limit bool
	Sort  bool
}

// Pagination describes the page the search engine returned relative to
// the full result set.
type Pagination struct {
	Page            int
	PageSize        int
	TotalPages      int
	HasNextPage     bool
	HasPreviousPage bool
	NextOffset      *int
	PreviousOffset  *int
	DefaultsApplied DefaultsApplied
}

// SearchFilter is the unified option set accepted by both the textual
// search and filtered-list front doors (spec.md §4.5.3).
type SearchFilter struct {
	Query         string
	SearchIn      SearchIn
	SessionID     string // viewer session; used only by the privacy rule
	Category      *Category
	Channel       string
	Channels      []string
	Priorities    []Priority
	KeyPattern    string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Sort          SortOrder
	// Limit is a pointer so JSON decoding can distinguish an omitted
	// "limit" field (nil, fall back to the server default) from an
	// explicit "limit": 0 (unlimited).
	Limit         *int
	Offset        int
	IncludeMetadata bool
}

// IntPtr returns a pointer to v, for populating SearchFilter.Limit.
func IntPtr(v int) *int { return &v }

// SearchResult is the envelope returned by the search engine.
type SearchResult struct {
	Items      []*ContextItem
	TotalCount int
	Pagination Pagination
}

// SaveRequest is the input to Save.
type SaveRequest struct {
	Key       string
	Value     string
	Category  *Category
	Priority  *Priority
	Channel   string
	Metadata  map[string]any
	IsPrivate *bool
}

// BatchSaveItem is one element of a batch_save request.
type BatchSaveItem struct {
	Key       string
	Value     string
	Category  *Category
	Priority  *Priority
	Channel   string
	Metadata  map[string]any
	IsPrivate *bool
}

// BatchUpdateItem holds the fields a batch_update request applies to
// every item its Keys and KeyPattern select; nil fields are left
// unchanged. Channel here is a new value to set, not a selector.
type BatchUpdateItem struct {
	Key      string
	Value    *string
	Category *Category
	Priority *Priority
	Channel  *string
	Metadata map[string]any
}

// BatchElementResult reports the outcome of one element of a batch
// operation.
type BatchElementResult struct {
	Index   int
	Key     string
	Success bool
	Action  string // "created", "updated", "deleted", "skipped"
	Error   string
}

// BatchResult is the overall outcome of a batch_save/update/delete call.
type BatchResult struct {
	Succeeded int
	Failed    int
	Results   []BatchElementResult
}

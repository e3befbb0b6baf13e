package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxkeeper/ctxkeeper/internal/checkpoint"
	"github.com/ctxkeeper/ctxkeeper/internal/session"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// fakeStore is a minimal in-memory stand-in covering both the session
// store and checkpoint store surfaces, since checkpoint.Manager is
// built atop a session.Manager sharing the same backing store.
type fakeStore struct {
	sessions    map[string]*types.Session
	items       map[string]map[string]*types.ContextItem // sessionID -> key -> item
	checkpoints map[string]*types.Checkpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]*types.Session),
		items:       make(map[string]map[string]*types.ContextItem),
		checkpoints: make(map[string]*types.Checkpoint),
	}
}

func (f *fakeStore) CreateSession(ctx context.Context, s *types.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	var out []*types.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) UpdateSession(ctx context.Context, id string, name, description, defaultChannel *string) (*types.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) SaveItem(ctx context.Context, sessionID string, req types.SaveRequest) (*types.ContextItem, error) {
	if f.items[sessionID] == nil {
		f.items[sessionID] = make(map[string]*types.ContextItem)
	}
	it := &types.ContextItem{
		ID: uuid.NewString(), SessionID: sessionID, Key: req.Key, Value: req.Value,
		Channel: req.Channel, Metadata: req.Metadata, UpdatedAt: time.Now(), CreatedAt: time.Now(),
	}
	if req.Category != nil {
		it.Category = *req.Category
	}
	if req.Priority != nil {
		it.Priority = *req.Priority
	}
	if req.IsPrivate != nil {
		it.IsPrivate = *req.IsPrivate
	}
	f.items[sessionID][req.Key] = it
	return it, nil
}

func (f *fakeStore) GetItem(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error) {
	it, ok := f.items[viewerSessionID][key]
	if !ok {
		return nil, assert.AnError
	}
	return it, nil
}

func (f *fakeStore) Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error) {
	var out []*types.ContextItem
	for _, it := range f.items[filter.SessionID] {
		out = append(out, it)
	}
	return &types.SearchResult{Items: out, TotalCount: len(out)}, nil
}

func (f *fakeStore) CreateCheckpoint(ctx context.Context, sessionID, name, description, gitStatus, gitBranch string) (*types.Checkpoint, error) {
	var itemIDs []string
	for _, it := range f.items[sessionID] {
		itemIDs = append(itemIDs, it.ID)
	}
	cp := &types.Checkpoint{
		ID: uuid.NewString(), SessionID: sessionID, Name: name, Description: description,
		GitStatus: gitStatus, GitBranch: gitBranch, ItemIDs: itemIDs, CreatedAt: time.Now(),
	}
	f.checkpoints[cp.ID] = cp
	return cp, nil
}

func (f *fakeStore) CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error) {
	cp, ok := f.checkpoints[checkpointID]
	if !ok {
		return nil, assert.AnError
	}
	byID := make(map[string]*types.ContextItem)
	for _, perSession := range f.items {
		for _, it := range perSession {
			byID[it.ID] = it
		}
	}
	var out []*types.ContextItem
	for _, id := range cp.ItemIDs {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func seedSession(t *testing.T, store *fakeStore, sessions *session.Manager, name string) *types.Session {
	t.Helper()
	sess, err := sessions.Create(context.Background(), session.CreateOptions{Name: name})
	require.NoError(t, err)
	return sess
}

func TestCreateRejectsEmptyName(t *testing.T) {
	store := newFakeStore()
	m := checkpoint.New(store, session.New(store))
	_, err := m.Create(context.Background(), "s1", "", "", "", "")
	assert.Error(t, err)
}

func TestCreateSnapshotsCurrentItems(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	sess := seedSession(t, store, sessions, "s1")

	_, err := store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k1", Value: "v1"})
	require.NoError(t, err)

	cp, err := m.Create(context.Background(), sess.ID, "cp1", "desc", "clean", "main")
	require.NoError(t, err)
	assert.Equal(t, "cp1", cp.Name)
	assert.Len(t, cp.ItemIDs, 1)
}

func TestRestoreReSavesCheckpointItems(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	sess := seedSession(t, store, sessions, "s1")

	_, _ = store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k1", Value: "v1"})
	cp, err := m.Create(context.Background(), sess.ID, "cp1", "", "", "")
	require.NoError(t, err)

	// Mutate the live item after the checkpoint, then restore.
	_, _ = store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k1", Value: "changed"})

	restored, err := m.Restore(context.Background(), cp.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, "v1", store.items[sess.ID]["k1"].Value)
}

func TestBranchCopiesFromCheckpoint(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	sess := seedSession(t, store, sessions, "parent")

	_, _ = store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k1", Value: "v1"})
	cp, err := m.Create(context.Background(), sess.ID, "cp1", "", "", "")
	require.NoError(t, err)

	child, copied, err := m.Branch(context.Background(), sess.ID, cp.ID, "child-branch", "feature/x")
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.Equal(t, sess.ID, child.ParentID)
	assert.NotNil(t, store.items[child.ID]["k1"])
}

func TestBranchCopiesLiveItemsWhenNoCheckpointGiven(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	sess := seedSession(t, store, sessions, "parent")

	_, _ = store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k1", Value: "v1"})
	_, _ = store.SaveItem(context.Background(), sess.ID, types.SaveRequest{Key: "k2", Value: "v2"})

	child, copied, err := m.Branch(context.Background(), sess.ID, "", "child-branch", "")
	require.NoError(t, err)
	assert.Equal(t, 2, copied)
	assert.Len(t, store.items[child.ID], 2)
}

func TestMergeKeepCurrentNeverOverwrites(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	source := seedSession(t, store, sessions, "source")
	target := seedSession(t, store, sessions, "target")

	_, _ = store.SaveItem(context.Background(), source.ID, types.SaveRequest{Key: "k1", Value: "from-source"})
	_, _ = store.SaveItem(context.Background(), target.ID, types.SaveRequest{Key: "k1", Value: "from-target"})

	merged, conflicts, err := m.Merge(context.Background(), source.ID, target.ID, checkpoint.KeepCurrent)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, "from-target", store.items[target.ID]["k1"].Value)
}

func TestMergeKeepSourceOverwrites(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	source := seedSession(t, store, sessions, "source")
	target := seedSession(t, store, sessions, "target")

	_, _ = store.SaveItem(context.Background(), source.ID, types.SaveRequest{Key: "k1", Value: "from-source"})
	_, _ = store.SaveItem(context.Background(), target.ID, types.SaveRequest{Key: "k1", Value: "from-target"})

	merged, conflicts, err := m.Merge(context.Background(), source.ID, target.ID, checkpoint.KeepSource)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, "from-source", store.items[target.ID]["k1"].Value)
}

func TestMergeKeepNewestPicksLatestUpdate(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	source := seedSession(t, store, sessions, "source")
	target := seedSession(t, store, sessions, "target")

	_, _ = store.SaveItem(context.Background(), target.ID, types.SaveRequest{Key: "k1", Value: "older"})
	time.Sleep(time.Millisecond)
	_, _ = store.SaveItem(context.Background(), source.ID, types.SaveRequest{Key: "k1", Value: "newer"})

	merged, conflicts, err := m.Merge(context.Background(), source.ID, target.ID, checkpoint.KeepNewest)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, "newer", store.items[target.ID]["k1"].Value)
}

func TestMergeCopiesKeysOnlyInSource(t *testing.T) {
	store := newFakeStore()
	sessions := session.New(store)
	m := checkpoint.New(store, sessions)
	source := seedSession(t, store, sessions, "source")
	target := seedSession(t, store, sessions, "target")

	_, _ = store.SaveItem(context.Background(), source.ID, types.SaveRequest{Key: "only-in-source", Value: "v"})

	merged, conflicts, err := m.Merge(context.Background(), source.ID, target.ID, checkpoint.KeepCurrent)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 0, conflicts)
	assert.NotNil(t, store.items[target.ID]["only-in-source"])
}

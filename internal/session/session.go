// Package session manages the lifecycle of sessions: creation with
// derived defaults, lookup, listing, update, and the single "current
// session" the daemon operates against for a given stdio connection
// (spec.md §5). Sessions are immutable once created except for the
// fields UpdateSession exposes; there is no delete, since other
// sessions may still reference one as a parent or own public items.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ctxkeeper/ctxkeeper/internal/channel"
	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// sessionStore is the narrow slice of storage.Storage the session
// manager needs, accepted as an interface so tests can supply a fake.
type sessionStore interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*types.Session, error)
	UpdateSession(ctx context.Context, id string, name, description, defaultChannel *string) (*types.Session, error)
}

// Manager wraps a sessionStore with session-lifecycle logic and holds
// the single "current session" a daemon process operates against.
type Manager struct {
	store sessionStore

	mu      sync.RWMutex
	current *types.Session
}

// New constructs a Manager over store.
func New(store sessionStore) *Manager {
	return &Manager{store: store}
}

// CreateOptions configures Create. GitBranch, when non-empty and
// DefaultChannel is empty, derives the default channel via
// channel.FromBranch; otherwise channel.FromName(Name) is used.
type CreateOptions struct {
	Name           string
	Description    string
	GitBranch      string
	WorkingDir     string
	ParentID       string
	DefaultChannel string
}

// Create persists a new session and makes it the current session.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*types.Session, error) {
	defaultChannel := opts.DefaultChannel
	if defaultChannel == "" {
		if opts.GitBranch != "" {
			defaultChannel = channel.FromBranch(opts.GitBranch)
		}
		if defaultChannel == "" {
			defaultChannel = channel.FromName(opts.Name)
		}
	}

	sess := &types.Session{
		ID:             uuid.NewString(),
		Name:           opts.Name,
		Description:    opts.Description,
		GitBranch:      opts.GitBranch,
		WorkingDir:     opts.WorkingDir,
		ParentID:       opts.ParentID,
		DefaultChannel: defaultChannel,
	}
	if sess.ParentID != "" {
		if _, err := m.store.GetSession(ctx, sess.ParentID); err != nil {
			return nil, errs.Ef(errs.InvalidArgument, err, "parent session %q does not exist", sess.ParentID)
		}
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.SetCurrent(sess)
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*types.Session, error) {
	return m.store.GetSession(ctx, id)
}

// List returns the most recently created sessions, up to limit.
func (m *Manager) List(ctx context.Context, limit int) ([]*types.Session, error) {
	return m.store.ListSessions(ctx, limit)
}

// Update mutates name/description/default_channel and refreshes the
// current-session cell if the updated session is the current one.
func (m *Manager) Update(ctx context.Context, id string, name, description, defaultChannel *string) (*types.Session, error) {
	sess, err := m.store.UpdateSession(ctx, id, name, description, defaultChannel)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.current = sess
	}
	m.mu.Unlock()
	return sess, nil
}

// Current returns the session currently bound to this daemon connection,
// or nil if none has been selected yet.
func (m *Manager) Current() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrent binds sess as the current session.
func (m *Manager) SetCurrent(sess *types.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sess
}

// RequireCurrent returns the current session or a FailedPrecondition
// error if no session has been selected, for tool handlers that need one
// implicitly.
func (m *Manager) RequireCurrent() (*types.Session, error) {
	sess := m.Current()
	if sess == nil {
		return nil, errs.E(errs.FailedPrecondition, nil, "no current session selected; call session_create or session_switch first")
	}
	return sess, nil
}

// Switch loads id from storage and makes it the current session.
func (m *Manager) Switch(ctx context.Context, id string) (*types.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	m.SetCurrent(sess)
	return sess, nil
}

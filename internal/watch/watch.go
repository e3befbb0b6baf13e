// Package watch implements the poll-based change-watcher subsystem
// (spec.md §4.9): createWatcher/pollWatcher with long-poll semantics,
// at-least-once delivery, and cancellation-safe blocking. Each watcher
// tracks its own high-water sequence number against the durable
// change_log table; the storage layer's in-process pub/sub is used only
// to wake a blocked poll early, never as the source of truth.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
)

// Filter restricts which committed changes a watcher is notified about.
type Filter struct {
	Keys       []string
	Categories []types.Category
	Channels   []string
	Priorities []types.Priority
}

func (f Filter) matches(item *types.ContextItem, ownerSessionID string) bool {
	if item == nil {
		return false
	}
	if item.IsPrivate && item.SessionID != ownerSessionID {
		return false
	}
	if len(f.Keys) > 0 && !containsString(f.Keys, item.Key) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, item.Category) {
		return false
	}
	if len(f.Channels) > 0 && !containsString(f.Channels, item.Channel) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, item.Priority) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsCategory(list []types.Category, v types.Category) bool {
	for _, c := range list {
		if c == v {
			return true
		}
	}
	return false
}

func containsPriority(list []types.Priority, v types.Priority) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

// watcher is one registered long-poll subscriber.
type watcher struct {
	id          string
	ownerID     string
	filter      Filter
	mu          sync.Mutex
	lastPolled  int64
}

// watchStore is the narrow slice of storage.Storage the registry needs,
// accepted as an interface so tests can supply a fake.
type watchStore interface {
	CurrentSequence(ctx context.Context) (int64, error)
	ChangesSince(ctx context.Context, since int64, limit int) ([]storage.ChangeEvent, error)
	Subscribe() (<-chan storage.ChangeEvent, func())
}

// Registry tracks every live watcher for a running daemon process. It is
// safe for concurrent use.
type Registry struct {
	store watchStore

	// maxConcurrentPolls bounds how many pollWatcher calls may block at
	// once, so an unbounded number of idle long-polls cannot exhaust
	// goroutines under a pathological client.
	sem *semaphore.Weighted

	mu       sync.Mutex
	watchers map[string]*watcher
}

// NewRegistry constructs a Registry over store, allowing up to
// maxConcurrentPolls simultaneous blocking poll calls.
func NewRegistry(store watchStore, maxConcurrentPolls int64) *Registry {
	if maxConcurrentPolls <= 0 {
		maxConcurrentPolls = 64
	}
	return &Registry{
		store:    store,
		sem:      semaphore.NewWeighted(maxConcurrentPolls),
		watchers: make(map[string]*watcher),
	}
}

// Create registers a new watcher scoped to ownerSessionID and returns its
// ID and starting sequence number. If startFromSequence is nil, the
// watcher starts from the database's current high-water mark, so it only
// sees changes committed after creation.
func (r *Registry) Create(ctx context.Context, ownerSessionID string, filter Filter, startFromSequence *int64) (string, int64, error) {
	start, err := r.resolveStart(ctx, startFromSequence)
	if err != nil {
		return "", 0, err
	}
	w := &watcher{id: uuid.NewString(), ownerID: ownerSessionID, filter: filter, lastPolled: start}
	r.mu.Lock()
	r.watchers[w.id] = w
	r.mu.Unlock()
	return w.id, start, nil
}

func (r *Registry) resolveStart(ctx context.Context, startFromSequence *int64) (int64, error) {
	if startFromSequence != nil {
		return *startFromSequence, nil
	}
	return r.store.CurrentSequence(ctx)
}

// Close removes a watcher; a later Poll for its ID returns NotFound.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, id)
}

// Poll blocks until at least one matching change is available, ctx is
// canceled, or timeout elapses, whichever comes first. On cancellation
// or timeout with nothing found, it returns an empty slice without
// advancing the watcher's sequence pointer, so a later poll will see the
// same events again (at-least-once, never skipped).
func (r *Registry) Poll(ctx context.Context, id string, timeout time.Duration) ([]storage.ChangeEvent, error) {
	r.mu.Lock()
	w, ok := r.watchers[id]
	r.mu.Unlock()
	if !ok {
		return nil, errs.Ef(errs.NotFound, nil, "no watcher %q", id)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Ef(errs.DeadlineExceeded, err, "watcher %q poll could not acquire a slot", id)
	}
	defer r.sem.Release(1)

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub, unsubscribe := r.store.Subscribe()
	defer unsubscribe()

	w.mu.Lock()
	since := w.lastPolled
	w.mu.Unlock()

	for {
		events, err := r.store.ChangesSince(ctx, since, 0)
		if err != nil {
			return nil, err
		}
		matched := filterMatching(events, w)
		if len(matched) > 0 {
			w.mu.Lock()
			w.lastPolled = events[len(events)-1].Sequence
			w.mu.Unlock()
			return matched, nil
		}
		if len(events) > 0 {
			// Nothing matched this watcher's filter; skip these events for
			// the rest of this call only. The stored pointer moves only when
			// a poll returns events.
			since = events[len(events)-1].Sequence
		}

		select {
		case <-pollCtx.Done():
			return nil, nil
		case <-sub:
			// Loop around and re-check ChangesSince; a new commit may or
			// may not match this watcher's filter.
		}
	}
}

func filterMatching(events []storage.ChangeEvent, w *watcher) []storage.ChangeEvent {
	var out []storage.ChangeEvent
	for _, ev := range events {
		if ev.Type != "created" && ev.Type != "updated" && ev.Type != "deleted" {
			continue
		}
		if w.filter.matches(ev.Item, w.ownerID) {
			out = append(out, ev)
		}
	}
	return out
}

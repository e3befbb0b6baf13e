package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/checkpoint"
	"github.com/ctxkeeper/ctxkeeper/internal/compress"
	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/graph"
	"github.com/ctxkeeper/ctxkeeper/internal/session"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite/migrate"
	"github.com/ctxkeeper/ctxkeeper/internal/types"
	"github.com/ctxkeeper/ctxkeeper/internal/validate"
	"github.com/ctxkeeper/ctxkeeper/internal/watch"
)

// Deps bundles every component a tool handler may call into.
type Deps struct {
	Store       storage.Storage
	Sessions    *session.Manager
	Graph       *graph.Graph
	Checkpoints *checkpoint.Manager
	Compress    *compress.Engine
	Watchers    *watch.Registry
	Migrations  *migrate.Manager
	DefaultWatcherTimeout time.Duration
	MaxWatcherTimeout     time.Duration
}

// RegisterAll binds every tool in spec.md §6 to the server.
func RegisterAll(s *Server, d Deps) {
	s.Register("session_create", d.sessionCreate)
	s.Register("session_switch", d.sessionSwitch)
	s.Register("session_list", d.sessionList)
	s.Register("session_update", d.sessionUpdate)

	s.Register("save", d.save)
	s.Register("get", d.get)
	s.Register("delete", d.delete)
	s.Register("batch_save", d.batchSave)
	s.Register("batch_update", d.batchUpdate)
	s.Register("batch_delete", d.batchDelete)
	s.Register("search", d.search)
	s.Register("reassign_channel", d.reassignChannel)
	s.Register("copy_between_sessions", d.copyBetweenSessions)

	s.Register("link", d.link)
	s.Register("unlink", d.unlink)
	s.Register("get_relationships", d.getRelationships)
	s.Register("traverse", d.traverse)
	s.Register("graph_stats", d.graphStats)

	s.Register("checkpoint_create", d.checkpointCreate)
	s.Register("checkpoint_restore", d.checkpointRestore)
	s.Register("branch", d.branch)
	s.Register("merge", d.merge)
	s.Register("compress", d.compress)

	s.Register("timeline", d.timeline)

	s.Register("create_watcher", d.createWatcher)
	s.RegisterConcurrent("poll_watcher", d.pollWatcher)

	s.Register("migrate_status", d.migrateStatus)
	s.Register("migrate_apply", d.migrateApply)
	s.Register("db_status", d.dbStatus)
}

func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, errs.Ef(errs.InvalidArgument, err, "malformed parameters")
	}
	return v, nil
}

func (d Deps) currentOrGiven(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	sess, err := d.Sessions.RequireCurrent()
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// --- sessions ---

type sessionCreateParams struct {
	Name, Description, GitBranch, WorkingDir, ParentID, DefaultChannel string
}

func (d Deps) sessionCreate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[sessionCreateParams](params)
	if err != nil {
		return nil, err
	}
	return d.Sessions.Create(ctx, session.CreateOptions{
		Name: p.Name, Description: p.Description, GitBranch: p.GitBranch,
		WorkingDir: p.WorkingDir, ParentID: p.ParentID, DefaultChannel: p.DefaultChannel,
	})
}

type sessionIDParams struct{ SessionID string }

func (d Deps) sessionSwitch(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	return d.Sessions.Switch(ctx, p.SessionID)
}

type limitParams struct{ Limit int }

func (d Deps) sessionList(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[limitParams](params)
	if err != nil {
		return nil, err
	}
	return d.Sessions.List(ctx, p.Limit)
}

type sessionUpdateParams struct {
	SessionID                           string
	Name, Description, DefaultChannel   *string
}

func (d Deps) sessionUpdate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[sessionUpdateParams](params)
	if err != nil {
		return nil, err
	}
	return d.Sessions.Update(ctx, p.SessionID, p.Name, p.Description, p.DefaultChannel)
}

// --- context items ---

type saveParams struct {
	SessionID string
	types.SaveRequest
}

func (d Deps) save(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[saveParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.SaveItem(ctx, sessionID, p.SaveRequest)
}

type getParams struct {
	SessionID, Key string
}

func (d Deps) get(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[getParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.GetItem(ctx, sessionID, p.Key)
}

func (d Deps) delete(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[getParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return nil, d.Store.DeleteItem(ctx, sessionID, p.Key)
}

type batchSaveParams struct {
	SessionID string
	Items     []types.BatchSaveItem
}

func (d Deps) batchSave(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[batchSaveParams](params)
	if err != nil {
		return nil, err
	}
	if len(p.Items) > validate.MaxBatchSize {
		return nil, errs.Ef(errs.InvalidArgument, nil, "batch of %d exceeds the %d element limit", len(p.Items), validate.MaxBatchSize)
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.BatchSave(ctx, sessionID, p.Items)
}

type batchUpdateParams struct {
	SessionID  string
	Keys       []string
	KeyPattern string
	Fields     types.BatchUpdateItem
}

func (d Deps) batchUpdate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[batchUpdateParams](params)
	if err != nil {
		return nil, err
	}
	if len(p.Keys) > validate.MaxBatchSize {
		return nil, errs.Ef(errs.InvalidArgument, nil, "batch of %d exceeds the %d element limit", len(p.Keys), validate.MaxBatchSize)
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.BatchUpdate(ctx, sessionID, p.Keys, p.KeyPattern, p.Fields)
}

type batchDeleteParams struct {
	SessionID  string
	Keys       []string
	KeyPattern string
	Channel    string
	DryRun     bool
}

func (d Deps) batchDelete(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[batchDeleteParams](params)
	if err != nil {
		return nil, err
	}
	if len(p.Keys) > validate.MaxBatchSize {
		return nil, errs.Ef(errs.InvalidArgument, nil, "batch of %d exceeds the %d element limit", len(p.Keys), validate.MaxBatchSize)
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.BatchDelete(ctx, sessionID, p.Keys, p.KeyPattern, p.Channel, p.DryRun)
}

func (d Deps) search(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[types.SearchFilter](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	p.SessionID = sessionID
	return d.Store.Search(ctx, p)
}

type reassignChannelParams struct {
	SessionID                        string
	Keys                              []string
	KeyPattern, FromChannel, ToChannel string
	Category                          *types.Category
	Priority                          *types.Priority
	DryRun                            bool
}

func (d Deps) reassignChannel(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[reassignChannelParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.ReassignChannel(ctx, sessionID, p.Keys, p.KeyPattern, p.FromChannel, p.ToChannel, p.Category, p.Priority, p.DryRun)
}

type copyBetweenSessionsParams struct {
	SourceSessionID, TargetSessionID string
}

func (d Deps) copyBetweenSessions(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[copyBetweenSessionsParams](params)
	if err != nil {
		return nil, err
	}
	return d.Store.CopyBetweenSessions(ctx, p.SourceSessionID, p.TargetSessionID)
}

// --- relationships ---

type linkParams struct {
	SessionID, FromKey, ToKey string
	Type                      types.RelationType
	Metadata                  map[string]any
}

func (d Deps) link(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[linkParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Graph.LinkChecked(ctx, sessionID, p.FromKey, p.ToKey, p.Type, p.Metadata)
}

func (d Deps) unlink(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[getParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return nil, d.Store.DeleteRelationshipsForKey(ctx, sessionID, p.Key)
}

func (d Deps) getRelationships(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[getParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	outgoing, incoming, err := d.Store.GetRelationships(ctx, sessionID, p.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"outgoing": outgoing, "incoming": incoming}, nil
}

type traverseParams struct {
	SessionID, Start, Direction string
	Types                       []types.RelationType
	MaxDepth                    int
}

func (d Deps) traverse(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[traverseParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Graph.Traverse(ctx, sessionID, p.Start, p.Direction, p.Types, p.MaxDepth)
}

type graphStatsParams struct {
	SessionID string
	AllKeys   []string
	TopN      int
}

func (d Deps) graphStats(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[graphStatsParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Graph.Statistics(ctx, sessionID, p.AllKeys, p.TopN)
}

// --- checkpoint / branch / merge / compress ---

type checkpointCreateParams struct {
	SessionID, Name, Description, GitStatus, GitBranch string
}

func (d Deps) checkpointCreate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[checkpointCreateParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Checkpoints.Create(ctx, sessionID, p.Name, p.Description, p.GitStatus, p.GitBranch)
}

type checkpointRestoreParams struct {
	CheckpointID, SessionID string
}

func (d Deps) checkpointRestore(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[checkpointRestoreParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	restored, err := d.Checkpoints.Restore(ctx, p.CheckpointID, sessionID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"restored": restored}, nil
}

type branchParams struct {
	SourceSessionID, CheckpointID, BranchName, GitBranch string
}

func (d Deps) branch(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[branchParams](params)
	if err != nil {
		return nil, err
	}
	sourceID, err := d.currentOrGiven(p.SourceSessionID)
	if err != nil {
		return nil, err
	}
	child, copied, err := d.Checkpoints.Branch(ctx, sourceID, p.CheckpointID, p.BranchName, p.GitBranch)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": child, "copied": copied}, nil
}

type mergeParams struct {
	SourceSessionID, TargetSessionID string
	Strategy                         checkpoint.MergeStrategy
}

func (d Deps) merge(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[mergeParams](params)
	if err != nil {
		return nil, err
	}
	merged, conflicts, err := d.Checkpoints.Merge(ctx, p.SourceSessionID, p.TargetSessionID, p.Strategy)
	if err != nil {
		return nil, err
	}
	return map[string]int{"merged": merged, "conflicts": conflicts}, nil
}

type compressParams struct {
	SessionID          string
	OlderThan          time.Time
	PreserveCategories []types.Category
	MinGroupSize       int
}

func (d Deps) compress(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[compressParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Compress.Run(ctx, sessionID, p.OlderThan, p.PreserveCategories, p.MinGroupSize)
}

// --- journal ---

func (d Deps) timeline(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[limitSessionParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	return d.Store.Timeline(ctx, sessionID, p.Limit)
}

type limitSessionParams struct {
	SessionID string
	Limit     int
}

// --- watchers ---

type createWatcherParams struct {
	SessionID         string
	Filter            watch.Filter
	StartFromSequence *int64
}

func (d Deps) createWatcher(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[createWatcherParams](params)
	if err != nil {
		return nil, err
	}
	sessionID, err := d.currentOrGiven(p.SessionID)
	if err != nil {
		return nil, err
	}
	id, seq, err := d.Watchers.Create(ctx, sessionID, p.Filter, p.StartFromSequence)
	if err != nil {
		return nil, err
	}
	return map[string]any{"watcherId": id, "sequence": seq}, nil
}

type pollWatcherParams struct {
	WatcherID string
	TimeoutMs int
}

func (d Deps) pollWatcher(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[pollWatcherParams](params)
	if err != nil {
		return nil, err
	}
	timeout := d.DefaultWatcherTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	if d.MaxWatcherTimeout > 0 && timeout > d.MaxWatcherTimeout {
		timeout = d.MaxWatcherTimeout
	}
	events, err := d.Watchers.Poll(ctx, p.WatcherID, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}

// --- administration ---

func (d Deps) migrateStatus(ctx context.Context, params json.RawMessage) (any, error) {
	return d.Migrations.Applied(ctx)
}

func (d Deps) migrateApply(ctx context.Context, params json.RawMessage) (any, error) {
	return nil, d.Migrations.ApplyAll(ctx)
}

type dbStatusResult struct {
	SizeBytes           int64
	FileObservedWritten bool
	LastFileWrite       time.Time
}

func (d Deps) dbStatus(ctx context.Context, params json.RawMessage) (any, error) {
	size, err := d.Store.DatabaseSizeBytes(ctx)
	if err != nil {
		return nil, err
	}
	observed, lastWrite := d.Store.Stat()
	return dbStatusResult{SizeBytes: size, FileObservedWritten: observed, LastFileWrite: lastWrite}, nil
}

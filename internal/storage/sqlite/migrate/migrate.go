// Package migrate implements the forward-only migration manager of
// spec.md §4.2: a table-driven registry of {version, name, apply-SQL,
// rollback-SQL, dependencies, requires-snapshot}, replacing the teacher's
// ad hoc per-version MigrateXxx(db) functions with a single manager that
// records {version, applied_at, success, execution_time} in a log table.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version          string
	Name             string
	Up               func(ctx context.Context, tx *sql.Tx) error
	Down             func(ctx context.Context, tx *sql.Tx) error
	Requires         []string
	RequiresSnapshot bool
}

// LogEntry is one row of the migrations_log table.
type LogEntry struct {
	Version         string
	Name            string
	AppliedAt       time.Time
	Success         bool
	ExecutionTimeMS int64
	Error           string
}

// Manager applies and rolls back a registered, ordered set of migrations
// against a *sql.DB, recording results in migrations_log.
type Manager struct {
	db         *sql.DB
	migrations []Migration
}

// New creates a Manager. The caller is responsible for having already
// created the migrations_log table (see schema.go's base schema).
func New(db *sql.DB, migrations []Migration) *Manager {
	return &Manager{db: db, migrations: migrations}
}

// Applied returns the set of version strings already recorded as
// successfully applied.
func (m *Manager) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM migrations_log WHERE success = 1`)
	if err != nil {
		return nil, errs.WrapDB("list applied migrations", err)
	}
	defer func() { _ = rows.Close() }()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errs.WrapDB("scan applied migration", err)
		}
		applied[v] = true
	}
	return applied, errs.WrapDB("iterate applied migrations", rows.Err())
}

// Log returns every row of migrations_log, most recent first.
func (m *Manager) Log(ctx context.Context) ([]LogEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, name, applied_at, success, execution_time_ms, error
		FROM migrations_log ORDER BY applied_at DESC`)
	if err != nil {
		return nil, errs.WrapDB("list migration log", err)
	}
	defer func() { _ = rows.Close() }()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var appliedAt string
		var success int
		if err := rows.Scan(&e.Version, &e.Name, &appliedAt, &success, &e.ExecutionTimeMS, &e.Error); err != nil {
			return nil, errs.WrapDB("scan migration log row", err)
		}
		e.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, errs.WrapDB("iterate migration log", rows.Err())
}

// ApplyAll applies every unapplied migration in registration order,
// stopping at the first failure.
func (m *Manager) ApplyAll(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
		applied[mig.Version] = true
	}
	return nil
}

// ApplyOne applies a single migration by version, regardless of ordering,
// as long as its declared dependencies have already been applied.
func (m *Manager) ApplyOne(ctx context.Context, version string) error {
	mig, ok := m.find(version)
	if !ok {
		return errs.Ef(errs.NotFound, nil, "no migration registered with version %q", version)
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	for _, dep := range mig.Requires {
		if !applied[dep] {
			return errs.Ef(errs.FailedPrecondition, nil, "migration %q requires %q which has not been applied", version, dep)
		}
	}
	return m.apply(ctx, mig)
}

// RollbackOne runs a migration's Down function and removes it from the
// log. Returns FailedPrecondition if the migration has no Down defined.
func (m *Manager) RollbackOne(ctx context.Context, version string) error {
	mig, ok := m.find(version)
	if !ok {
		return errs.Ef(errs.NotFound, nil, "no migration registered with version %q", version)
	}
	if mig.Down == nil {
		return errs.Ef(errs.FailedPrecondition, nil, "migration %q has no rollback", version)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.WrapDB("begin rollback transaction", err)
	}
	if err := mig.Down(ctx, tx); err != nil {
		_ = tx.Rollback()
		return errs.Ef(errs.Internal, err, "rollback of %q failed", version)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM migrations_log WHERE version = ?`, version); err != nil {
		_ = tx.Rollback()
		return errs.WrapDB("remove migration log entry", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.WrapDB("commit rollback transaction", err)
	}
	return nil
}

// DryRunResult describes what ApplyAll/ApplyOne would do without doing it.
type DryRunResult struct {
	Version string
	Name    string
	Pending bool
}

// DryRun reports which registered migrations are pending, without
// executing any of them.
func (m *Manager) DryRun(ctx context.Context) ([]DryRunResult, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	var out []DryRunResult
	for _, mig := range m.migrations {
		out = append(out, DryRunResult{Version: mig.Version, Name: mig.Name, Pending: !applied[mig.Version]})
	}
	return out, nil
}

func (m *Manager) find(version string) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

// apply runs one migration inside its own transaction and records the
// outcome in migrations_log whether it succeeds or fails.
func (m *Manager) apply(ctx context.Context, mig Migration) error {
	start := time.Now()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.WrapDB("begin migration transaction", err)
	}

	applyErr := mig.Up(ctx, tx)
	elapsed := time.Since(start).Milliseconds()

	if applyErr != nil {
		_ = tx.Rollback()
		if logErr := m.recordResult(ctx, mig, start, false, elapsed, applyErr.Error()); logErr != nil {
			return errs.Ef(errs.Internal, applyErr, "migration %q failed and could not be logged: %v", mig.Version, logErr)
		}
		return errs.Ef(errs.Internal, applyErr, "migration %q failed", mig.Version)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO migrations_log (version, name, applied_at, success, execution_time_ms, error)
		VALUES (?, ?, ?, 1, ?, '')
		ON CONFLICT (version) DO UPDATE SET
			applied_at = excluded.applied_at, success = 1,
			execution_time_ms = excluded.execution_time_ms, error = ''
	`, mig.Version, mig.Name, start.UTC().Format(time.RFC3339Nano), elapsed); err != nil {
		_ = tx.Rollback()
		return errs.WrapDB("record migration success", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.WrapDB(fmt.Sprintf("commit migration %q", mig.Version), err)
	}
	return nil
}

// recordResult logs a failed migration outside the failed transaction
// (which has already been rolled back).
func (m *Manager) recordResult(ctx context.Context, mig Migration, start time.Time, success bool, elapsedMS int64, errMsg string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO migrations_log (version, name, applied_at, success, execution_time_ms, error)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
			applied_at = excluded.applied_at, success = 0,
			execution_time_ms = excluded.execution_time_ms, error = excluded.error
	`, mig.Version, mig.Name, start.UTC().Format(time.RFC3339Nano), elapsedMS, errMsg)
	return errs.WrapDB("record migration failure", err)
}

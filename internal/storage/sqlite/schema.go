package sqlite

// schemaStatements creates every table and index the context store needs
// on a freshly opened database. Tables map 1:1 onto spec.md §6's
// "Persisted layout" list; columns beyond the core entities (migrations_log)
// are private to the migration manager.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		git_branch TEXT NOT NULL DEFAULT '',
		working_dir TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		default_channel TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS context_items (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'normal',
		channel TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		is_private INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (session_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_context_items_session_channel ON context_items(session_id, channel)`,
	`CREATE INDEX IF NOT EXISTS idx_context_items_session_category ON context_items(session_id, category)`,
	`CREATE INDEX IF NOT EXISTS idx_context_items_session_priority ON context_items(session_id, priority)`,
	`CREATE INDEX IF NOT EXISTS idx_context_items_session_created ON context_items(session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_context_items_private ON context_items(is_private)`,
	`CREATE TABLE IF NOT EXISTS context_relationships (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		from_key TEXT NOT NULL,
		to_key TEXT NOT NULL,
		type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (session_id, from_key, to_key, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON context_relationships(session_id, from_key)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON context_relationships(session_id, to_key)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		git_status TEXT NOT NULL DEFAULT '',
		git_branch TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_items (
		checkpoint_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_files (
		checkpoint_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, file_id)
	)`,
	`CREATE TABLE IF NOT EXISTS file_cache (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_session_created ON journal_entries(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS compressed_context (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		category TEXT NOT NULL,
		count INTEGER NOT NULL,
		priority_counts TEXT NOT NULL DEFAULT '',
		keys TEXT NOT NULL DEFAULT '',
		sample TEXT NOT NULL DEFAULT '',
		original_bytes INTEGER NOT NULL,
		compressed_bytes INTEGER NOT NULL,
		ratio REAL NOT NULL,
		range_start TEXT NOT NULL,
		range_end TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tool_events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS change_log (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		channel TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		is_private INTEGER NOT NULL,
		occurred_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS migrations_log (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		execution_time_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`,
}

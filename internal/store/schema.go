package store

// SchemaVersion is the current schema version. Migrations run from whatever
// the store currently reports up to this value; a store reporting a higher
// version refuses to open.
const SchemaVersion = 4

// schemaStatements create the core and operational tables plus their
// indexes. All statements use IF NOT EXISTS so they are safe to replay on
// an already-initialised store.
var schemaStatements = []string{
	// ── core tables ─────────────────────────────────────────────────────
	`CREATE TABLE IF NOT EXISTS repo_meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER,
		last_indexed_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS symbols (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		file_path TEXT NOT NULL REFERENCES files(path),
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		signature TEXT,
		return_type TEXT,
		visibility TEXT,
		is_async BOOLEAN DEFAULT FALSE,
		is_static BOOLEAN DEFAULT FALSE,
		parent_symbol_id INTEGER REFERENCES symbols(id),
		docstring TEXT,
		pagerank_score REAL DEFAULT 0.0,
		UNIQUE(qualified_name, file_path, start_line)
	);`,
	`CREATE TABLE IF NOT EXISTS parameters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol_id INTEGER NOT NULL REFERENCES symbols(id),
		name TEXT NOT NULL,
		type TEXT,
		position INTEGER NOT NULL,
		default_value TEXT,
		UNIQUE(symbol_id, position)
	);`,
	`CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		source_type TEXT NOT NULL,
		target_type TEXT NOT NULL,
		relationship TEXT NOT NULL,
		file_path TEXT,
		line_number INTEGER,
		confidence REAL DEFAULT 1.0,
		UNIQUE(source_id, target_id, source_type, target_type, relationship)
	);`,
	`CREATE TABLE IF NOT EXISTS external_deps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL REFERENCES files(path),
		import_statement TEXT NOT NULL,
		module_name TEXT NOT NULL,
		line_number INTEGER
	);`,
	// ── operational tables ──────────────────────────────────────────────
	`CREATE TABLE IF NOT EXISTS migration_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_version INTEGER NOT NULL,
		to_version INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT NOT NULL,
		local_snapshot TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS artifact_quarantine (
		artifact_id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		quarantined_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS artifact_pins (
		repo_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		pinned_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(repo_id, snapshot_id)
	);`,
	`CREATE TABLE IF NOT EXISTS circuit_breakers (
		repo_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		opened_at_utc TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS sync_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT NOT NULL,
		level TEXT NOT NULL,
		event_type TEXT NOT NULL,
		detail_json TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS tool_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id TEXT,
		tool_name TEXT NOT NULL,
		latency_ms REAL NOT NULL,
		success INTEGER NOT NULL,
		mode TEXT NOT NULL,
		result_size INTEGER,
		error_message TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS indexing_diagnostics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'error',
		file_path TEXT,
		language TEXT,
		message TEXT NOT NULL,
		hint TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS trusted_signing_keys (
		repo_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		public_key TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT 'default',
		active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(repo_id, key_id)
	);`,
	// ── indexes ─────────────────────────────────────────────────────────
	`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_qualified ON symbols(qualified_name);`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_pagerank ON symbols(pagerank_score DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, source_type);`,
	`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, target_type);`,
	`CREATE INDEX IF NOT EXISTS idx_edges_relationship ON edges(relationship);`,
	`CREATE INDEX IF NOT EXISTS idx_edges_file_line ON edges(file_path, line_number);`,
	`CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);`,
	`CREATE INDEX IF NOT EXISTS idx_external_deps_module ON external_deps(module_name);`,
	`CREATE INDEX IF NOT EXISTS idx_external_deps_file_module ON external_deps(file_path, module_name);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_repo_status ON sync_queue(repo_id, status, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_events_repo_created ON sync_events(repo_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_tool_metrics_tool_created ON tool_metrics(tool_name, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_index_diag_run_created ON indexing_diagnostics(run_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_index_diag_stage_category ON indexing_diagnostics(stage, category);`,
	`CREATE INDEX IF NOT EXISTS idx_trusted_keys_repo_active ON trusted_signing_keys(repo_id, active, key_id);`,
}

// ftsStatements create the FTS5 virtual table. They run best-effort because
// some SQLite builds lack FTS5; the query layer falls back to LIKE.
var ftsStatements = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS symbol_fts
	 USING fts5(symbol_id UNINDEXED, name, qualified_name, docstring, signature);`,
}

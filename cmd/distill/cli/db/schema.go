package db

import "database/sql"

// InitSchema creates the session tables if they do not exist.
// Safe to run on every open.
func InitSchema(d *sql.DB) error {
	_, err := d.Exec(sessionDDL)
	return err
}

// entries_fts is standalone rather than content-synced: annotation rewrites
// the indexed fields, and a content-synced table cannot have its rows
// mutated without risking index corruption. fts_map keeps the bijection
// between FTS rowids and entry ids; every write that touches it runs in a
// transaction with the entries write.
const sessionDDL = `
CREATE TABLE IF NOT EXISTS entries (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt_index      INTEGER NOT NULL,
	file_path         TEXT,
	entry_type        TEXT    NOT NULL,
	tool_calls        TEXT    NOT NULL DEFAULT '[]',
	description       TEXT,
	tags              TEXT    NOT NULL DEFAULT '',
	related_files     TEXT    NOT NULL DEFAULT '[]',
	semantic_group    TEXT    NOT NULL DEFAULT '',
	confidence        REAL    NOT NULL DEFAULT 0,
	low_relevance     INTEGER NOT NULL DEFAULT 0,
	annotation_status TEXT    NOT NULL DEFAULT 'pending',
	created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_prompt ON entries(prompt_index);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(annotation_status);
CREATE INDEX IF NOT EXISTS idx_entries_group  ON entries(semantic_group);

CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
	file_path,
	description,
	tags,
	semantic_group,
	tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS fts_map (
	fts_rowid INTEGER PRIMARY KEY,
	entry_id  INTEGER NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS entry_links (
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	link_type TEXT    NOT NULL,
	PRIMARY KEY (source_id, target_id, link_type)
);

CREATE TABLE IF NOT EXISTS session_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

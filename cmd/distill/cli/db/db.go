// Package db implements the per-session store: a SQLite database holding
// entries, their standalone FTS5 index, typed entry links, and the session
// state scratchpad.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the session database at path and applies the
// schema. The parent directory is created if needed.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// Durability is traded for hook-path latency: WAL lets the retriever
	// read while a detached annotator writes.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := d.Exec(p); err != nil {
			d.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if err := InitSchema(d); err != nil {
		d.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return d, nil
}

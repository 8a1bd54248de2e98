package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// SearchLimit caps the number of BM25 candidates handed to the retriever.
const SearchLimit = 50

// SearchResult pairs an entry's retrieval fields with its FTS5 rank.
// SQLite bm25() ranks ascending: more negative is more relevant.
type SearchResult struct {
	ID            int64
	PromptIndex   int
	FilePath      string
	EntryType     string
	Description   string
	SemanticGroup string
	Rank          float64
}

// Search runs an FTS5 MATCH against the index, joined back to entries via
// the rowid map, restricted to what retrieval may see: annotated, not
// low-relevance, and strictly before the current prompt.
func Search(d *sql.DB, match string, beforePrompt int) ([]SearchResult, error) {
	rows, err := d.Query(`
		SELECT e.id, e.prompt_index, COALESCE(e.file_path, ''), e.entry_type,
		       COALESCE(e.description, ''), e.semantic_group, f.rank
		FROM entries_fts f
		JOIN fts_map m ON m.fts_rowid = f.rowid
		JOIN entries e ON e.id = m.entry_id
		WHERE entries_fts MATCH ?
		  AND e.annotation_status = ?
		  AND e.low_relevance = 0
		  AND e.prompt_index < ?
		ORDER BY f.rank
		LIMIT ?`,
		match, StatusAnnotated, beforePrompt, SearchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

// GroupEntries returns up to limit additional annotated entries in a
// semantic group, excluding already-selected ids, newest turns first.
func GroupEntries(d *sql.DB, group string, beforePrompt int, exclude []int64, limit int) ([]SearchResult, error) {
	query := `
		SELECT id, prompt_index, COALESCE(file_path, ''), entry_type,
		       COALESCE(description, ''), semantic_group, 0
		FROM entries
		WHERE semantic_group = ?
		  AND annotation_status = ?
		  AND low_relevance = 0
		  AND prompt_index < ?`
	args := []any{group, StatusAnnotated, beforePrompt}

	if len(exclude) > 0 {
		query += " AND id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",") + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += " ORDER BY prompt_index DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("group entries %q: %w", group, err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

func scanSearchResults(rows *sql.Rows) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.PromptIndex, &r.FilePath, &r.EntryType,
			&r.Description, &r.SemanticGroup, &r.Rank); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

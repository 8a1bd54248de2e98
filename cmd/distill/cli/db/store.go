package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State keys.
const (
	StatePromptIndex = "prompt_index"
	statePromptText  = "prompt_" // prompt_<N> holds the raw prompt of turn N
)

// GetState returns the value for key, or "" if absent.
func GetState(d *sql.DB, key string) (string, error) {
	var value string
	err := d.QueryRow("SELECT value FROM session_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state key.
func SetState(d *sql.DB, key, value string) error {
	_, err := d.Exec(`
		INSERT INTO session_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetPromptIndex returns the current prompt index, 0 if never set.
func GetPromptIndex(d *sql.DB) (int, error) {
	value, err := GetState(d, StatePromptIndex)
	if err != nil || value == "" {
		return 0, err
	}
	idx, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse prompt index %q: %w", value, err)
	}
	return idx, nil
}

// SetPromptIndex persists the prompt index.
func SetPromptIndex(d *sql.DB, idx int) error {
	return SetState(d, StatePromptIndex, strconv.Itoa(idx))
}

// SetPromptText stores the raw user prompt for a turn.
func SetPromptText(d *sql.DB, idx int, prompt string) error {
	return SetState(d, statePromptText+strconv.Itoa(idx), prompt)
}

// GetPromptText returns the raw user prompt recorded for a turn.
func GetPromptText(d *sql.DB, idx int) (string, error) {
	return GetState(d, statePromptText+strconv.Itoa(idx))
}

// InsertEntry creates a pending entry and its FTS document in one
// transaction, returning the new entry id. toolCalls is the JSON-encoded
// call summary list.
func InsertEntry(d *sql.DB, promptIndex int, filePath, entryType, toolCalls string) (int64, error) {
	tx, err := d.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO entries (prompt_index, file_path, entry_type, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		promptIndex, filePath, entryType, toolCalls, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("entry id: %w", err)
	}

	if err := indexEntry(tx, id, filePath, "", "", ""); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// AnnotateEntry overwrites an entry's annotation fields, marks it
// annotated, and reindexes its FTS document. The delete + reinsert and the
// map rewrite run in one transaction so no reader observes a half-updated
// mapping.
func AnnotateEntry(d *sql.DB, id int64, ann Annotation) error {
	related, err := json.Marshal(ann.RelatedFiles)
	if err != nil {
		return fmt.Errorf("encode related files: %w", err)
	}
	if ann.RelatedFiles == nil {
		related = []byte("[]")
	}

	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE entries
		SET description = ?, tags = ?, semantic_group = ?, related_files = ?,
		    confidence = ?, low_relevance = ?, annotation_status = ?
		WHERE id = ?`,
		ann.Description, ann.Tags, ann.SemanticGroup, string(related),
		ann.Confidence, boolToInt(ann.LowRelevance), StatusAnnotated, id,
	)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("annotate entry %d: no such entry", id)
	}

	var filePath sql.NullString
	if err := tx.QueryRow("SELECT file_path FROM entries WHERE id = ?", id).Scan(&filePath); err != nil {
		return fmt.Errorf("read entry %d: %w", id, err)
	}

	if err := deleteIndex(tx, id); err != nil {
		return err
	}
	if err := indexEntry(tx, id, filePath.String, ann.Description, ann.Tags, ann.SemanticGroup); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertSummary creates the turn-overview entry, pre-marked annotated,
// with {description, tags} indexed into FTS.
func InsertSummary(d *sql.DB, promptIndex int, description, tags string) (int64, error) {
	tx, err := d.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO entries (prompt_index, file_path, entry_type, description, tags,
		                     semantic_group, annotation_status, created_at)
		VALUES (?, '', ?, ?, ?, '', ?, ?)`,
		promptIndex, TypeSummary, description, tags, StatusAnnotated, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("summary id: %w", err)
	}

	if err := indexEntry(tx, id, "", description, tags, ""); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// InsertLink records a typed edge between two entries. Duplicate links are
// ignored.
func InsertLink(d *sql.DB, link Link) error {
	_, err := d.Exec(`
		INSERT OR IGNORE INTO entry_links (source_id, target_id, link_type)
		VALUES (?, ?, ?)`,
		link.SourceID, link.TargetID, link.LinkType,
	)
	if err != nil {
		return fmt.Errorf("insert link %d->%d: %w", link.SourceID, link.TargetID, err)
	}
	return nil
}

// GetLinks returns all links originating from or targeting entries of the
// session, in insertion order.
func GetLinks(d *sql.DB) ([]Link, error) {
	rows, err := d.Query("SELECT source_id, target_id, link_type FROM entry_links ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.LinkType); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetPending returns entries at promptIndex still awaiting annotation
// (pending or annotating), in id order.
func GetPending(d *sql.DB, promptIndex int) ([]Entry, error) {
	return queryEntries(d, `
		WHERE prompt_index = ? AND annotation_status IN (?, ?)
		ORDER BY id`,
		promptIndex, StatusPending, StatusAnnotating,
	)
}

// GetFailed returns up to limit most recent failed entries.
func GetFailed(d *sql.DB, limit int) ([]Entry, error) {
	return queryEntries(d, `
		WHERE annotation_status = ?
		ORDER BY id DESC LIMIT ?`,
		StatusFailed, limit,
	)
}

// GetEntry returns a single entry by id.
func GetEntry(d *sql.DB, id int64) (*Entry, error) {
	entries, err := queryEntries(d, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("entry %d: not found", id)
	}
	return &entries[0], nil
}

// GetAllEntries returns every entry in id order. Used by inspect and export.
func GetAllEntries(d *sql.DB) ([]Entry, error) {
	return queryEntries(d, "ORDER BY id")
}

// GetHistorical returns up to limit most recent annotated entries before
// beforePrompt, metadata only, newest first.
func GetHistorical(d *sql.DB, beforePrompt, limit int) ([]HistoricalEntry, error) {
	rows, err := d.Query(`
		SELECT id, prompt_index, COALESCE(file_path, ''), COALESCE(description, ''),
		       tags, semantic_group
		FROM entries
		WHERE annotation_status = ? AND prompt_index < ?
		ORDER BY id DESC LIMIT ?`,
		StatusAnnotated, beforePrompt, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query historical: %w", err)
	}
	defer rows.Close()

	var out []HistoricalEntry
	for rows.Next() {
		var h HistoricalEntry
		if err := rows.Scan(&h.ID, &h.PromptIndex, &h.FilePath, &h.Description, &h.Tags, &h.SemanticGroup); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkAnnotating transitions the given entries to annotating.
func MarkAnnotating(d *sql.DB, ids []int64) error {
	return setStatus(d, ids, StatusAnnotating)
}

// MarkFailedIDs transitions the given entries to failed.
func MarkFailedIDs(d *sql.DB, ids []int64) error {
	return setStatus(d, ids, StatusFailed)
}

// MarkFailed fails every pending or annotating entry at promptIndex.
func MarkFailed(d *sql.DB, promptIndex int) error {
	_, err := d.Exec(`
		UPDATE entries SET annotation_status = ?
		WHERE prompt_index = ? AND annotation_status IN (?, ?)`,
		StatusFailed, promptIndex, StatusPending, StatusAnnotating,
	)
	if err != nil {
		return fmt.Errorf("mark failed at %d: %w", promptIndex, err)
	}
	return nil
}

// GetCounts aggregates entry counts by type and status.
func GetCounts(d *sql.DB) (Counts, error) {
	counts := Counts{ByType: map[string]int{}, ByStatus: map[string]int{}}

	rows, err := d.Query("SELECT entry_type, annotation_status, COUNT(*) FROM entries GROUP BY entry_type, annotation_status")
	if err != nil {
		return counts, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryType, status string
		var n int
		if err := rows.Scan(&entryType, &status, &n); err != nil {
			return counts, err
		}
		counts.Total += n
		counts.ByType[entryType] += n
		counts.ByStatus[status] += n
	}
	return counts, rows.Err()
}

// SummaryForPrompt returns the description of the summary entry for a turn,
// or "" if the turn has none.
func SummaryForPrompt(d *sql.DB, promptIndex int) (string, error) {
	var desc sql.NullString
	err := d.QueryRow(`
		SELECT description FROM entries
		WHERE entry_type = ? AND prompt_index = ?
		ORDER BY id DESC LIMIT 1`,
		TypeSummary, promptIndex,
	).Scan(&desc)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("summary for prompt %d: %w", promptIndex, err)
	}
	return desc.String, nil
}

// ImportEntry inserts a fully populated entry row with an explicit id,
// indexing it through the normal path. Existing ids are skipped.
// Used by snapshot import only.
func ImportEntry(d *sql.DB, e Entry) (bool, error) {
	tx, err := d.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM entries WHERE id = ?", e.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check entry %d: %w", e.ID, err)
	}
	if exists > 0 {
		return false, nil
	}

	relatedFiles := e.RelatedFiles
	if relatedFiles == "" {
		relatedFiles = "[]"
	}
	_, err = tx.Exec(`
		INSERT INTO entries (id, prompt_index, file_path, entry_type, tool_calls, description,
		                     tags, related_files, semantic_group, confidence, low_relevance,
		                     annotation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PromptIndex, e.FilePath, e.EntryType, e.ToolCalls, e.Description,
		e.Tags, relatedFiles, e.SemanticGroup, e.Confidence, boolToInt(e.LowRelevance),
		e.Status, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("import entry %d: %w", e.ID, err)
	}

	if err := indexEntry(tx, e.ID, e.FilePath, e.Description, e.Tags, e.SemanticGroup); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// indexEntry inserts the FTS document for an entry and records the rowid
// mapping. Must run inside the caller's transaction.
func indexEntry(tx *sql.Tx, id int64, filePath, description, tags, semanticGroup string) error {
	res, err := tx.Exec(`
		INSERT INTO entries_fts (file_path, description, tags, semantic_group)
		VALUES (?, ?, ?, ?)`,
		filePath, description, tags, semanticGroup,
	)
	if err != nil {
		return fmt.Errorf("index entry %d: %w", id, err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("fts rowid: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO fts_map (fts_rowid, entry_id) VALUES (?, ?)", rowid, id); err != nil {
		return fmt.Errorf("map entry %d: %w", id, err)
	}
	return nil
}

// deleteIndex removes an entry's FTS document and mapping.
// Must run inside the caller's transaction.
func deleteIndex(tx *sql.Tx, id int64) error {
	var rowid int64
	err := tx.QueryRow("SELECT fts_rowid FROM fts_map WHERE entry_id = ?", id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("map lookup %d: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM entries_fts WHERE rowid = ?", rowid); err != nil {
		return fmt.Errorf("unindex entry %d: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM fts_map WHERE entry_id = ?", id); err != nil {
		return fmt.Errorf("unmap entry %d: %w", id, err)
	}
	return nil
}

func setStatus(d *sql.DB, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := d.Exec(
		"UPDATE entries SET annotation_status = ? WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

const entryColumns = `
	id, prompt_index, COALESCE(file_path, ''), entry_type, tool_calls,
	COALESCE(description, ''), tags, related_files, semantic_group,
	confidence, low_relevance, annotation_status, created_at`

func queryEntries(d *sql.DB, clause string, args ...any) ([]Entry, error) {
	rows, err := d.Query("SELECT"+entryColumns+" FROM entries "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var lowRelevance int
		if err := rows.Scan(
			&e.ID, &e.PromptIndex, &e.FilePath, &e.EntryType, &e.ToolCalls,
			&e.Description, &e.Tags, &e.RelatedFiles, &e.SemanticGroup,
			&e.Confidence, &lowRelevance, &e.Status, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.LowRelevance = lowRelevance != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

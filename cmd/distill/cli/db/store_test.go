package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertBijection checks that every entry has exactly one FTS document and
// the map has no orphans in either direction.
func assertBijection(t *testing.T, d *sql.DB) {
	t.Helper()

	var entries, mapped, ftsRows int
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM entries").Scan(&entries))
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM fts_map").Scan(&mapped))
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM entries_fts").Scan(&ftsRows))
	assert.Equal(t, entries, mapped, "fts_map rows")
	assert.Equal(t, entries, ftsRows, "entries_fts rows")

	var orphans int
	require.NoError(t, d.QueryRow(`
		SELECT COUNT(*) FROM fts_map m
		LEFT JOIN entries e ON e.id = m.entry_id
		WHERE e.id IS NULL`).Scan(&orphans))
	assert.Zero(t, orphans, "map rows without entries")

	require.NoError(t, d.QueryRow(`
		SELECT COUNT(*) FROM entries e
		LEFT JOIN fts_map m ON m.entry_id = e.id
		WHERE m.entry_id IS NULL`).Scan(&orphans))
	assert.Zero(t, orphans, "entries without map rows")
}

func TestInsertEntry_PendingWithFTSRow(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertEntry(d, 1, "src/login.ts", TypeFileChange, `[{"tool":"Edit"}]`)
	require.NoError(t, err)

	e, err := GetEntry(d, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, "src/login.ts", e.FilePath)
	assert.Equal(t, 1, e.PromptIndex)
	assert.NotZero(t, e.CreatedAt)

	assertBijection(t, d)
}

func TestAnnotateEntry_ReindexesAtomically(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertEntry(d, 1, "src/auth/token.go", TypeFileChange, "[]")
	require.NoError(t, err)

	ann := Annotation{
		Description:   "Added token refresh to the auth flow",
		Tags:          "auth,token,refresh",
		SemanticGroup: "auth",
		RelatedFiles:  []string{"src/auth/token.go"},
		Confidence:    0.9,
	}
	require.NoError(t, AnnotateEntry(d, id, ann))

	e, err := GetEntry(d, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAnnotated, e.Status)
	assert.Equal(t, "Added token refresh to the auth flow", e.Description)
	assert.Equal(t, `["src/auth/token.go"]`, e.RelatedFiles)

	results, err := Search(d, `"token"`, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	assertBijection(t, d)
}

func TestAnnotateEntry_Idempotent(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertEntry(d, 1, "main.go", TypeFileChange, "[]")
	require.NoError(t, err)

	ann := Annotation{Description: "Rewired startup", Tags: "main,startup", SemanticGroup: "main.go"}
	require.NoError(t, AnnotateEntry(d, id, ann))
	require.NoError(t, AnnotateEntry(d, id, ann))

	e, err := GetEntry(d, id)
	require.NoError(t, err)
	assert.Equal(t, "Rewired startup", e.Description)

	results, err := Search(d, `"startup"`, 2)
	require.NoError(t, err)
	assert.Len(t, results, 1, "reannotation must not duplicate FTS rows")

	assertBijection(t, d)
}

func TestAnnotateEntry_Missing(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	err := AnnotateEntry(d, 999, Annotation{Description: "x"})
	assert.Error(t, err)
}

func TestInsertSummary_AnnotatedOnInsert(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertSummary(d, 3, "Refactored auth", "auth,refactor")
	require.NoError(t, err)

	e, err := GetEntry(d, id)
	require.NoError(t, err)
	assert.Equal(t, TypeSummary, e.EntryType)
	assert.Equal(t, StatusAnnotated, e.Status)
	assert.Empty(t, e.FilePath)
	assert.Empty(t, e.SemanticGroup)

	desc, err := SummaryForPrompt(d, 3)
	require.NoError(t, err)
	assert.Equal(t, "Refactored auth", desc)

	desc, err = SummaryForPrompt(d, 4)
	require.NoError(t, err)
	assert.Empty(t, desc)

	assertBijection(t, d)
}

func TestInsertLink_DuplicateIgnored(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	link := Link{SourceID: 1, TargetID: 2, LinkType: LinkExtends}
	require.NoError(t, InsertLink(d, link))
	require.NoError(t, InsertLink(d, link))
	require.NoError(t, InsertLink(d, Link{SourceID: 1, TargetID: 2, LinkType: LinkRelated}))

	links, err := GetLinks(d)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestState_AndPromptIndex(t *testing.T) {
	t.Parallel()

	d := testDB(t)

	idx, err := GetPromptIndex(d)
	require.NoError(t, err)
	assert.Zero(t, idx)

	require.NoError(t, SetPromptIndex(d, 1))
	require.NoError(t, SetPromptIndex(d, 2))
	idx, err = GetPromptIndex(d)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.NoError(t, SetPromptText(d, 2, "fix the login bug"))
	prompt, err := GetPromptText(d, 2)
	require.NoError(t, err)
	assert.Equal(t, "fix the login bug", prompt)

	missing, err := GetState(d, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	a, err := InsertEntry(d, 2, "a.go", TypeResearch, "[]")
	require.NoError(t, err)
	b, err := InsertEntry(d, 2, "b.go", TypeResearch, "[]")
	require.NoError(t, err)

	pending, err := GetPending(d, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, MarkAnnotating(d, []int64{a}))
	pending, err = GetPending(d, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "annotating entries still count as pending work")

	require.NoError(t, MarkFailed(d, 2))
	pending, err = GetPending(d, 2)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := GetFailed(d, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	// Most recent first.
	assert.Equal(t, b, failed[0].ID)
	assert.Equal(t, a, failed[1].ID)
}

func TestGetFailed_Bounded(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	for i := 0; i < 15; i++ {
		id, err := InsertEntry(d, 1, "x.go", TypeResearch, "[]")
		require.NoError(t, err)
		require.NoError(t, MarkFailedIDs(d, []int64{id}))
	}

	failed, err := GetFailed(d, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 10)
}

func TestGetHistorical_AnnotatedBeforeOnly(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	old, err := InsertEntry(d, 1, "a.go", TypeResearch, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, old, Annotation{Description: "Read a.go", SemanticGroup: "a.go"}))

	pendingID, err := InsertEntry(d, 1, "b.go", TypeResearch, "[]")
	require.NoError(t, err)

	current, err := InsertEntry(d, 2, "c.go", TypeResearch, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, current, Annotation{Description: "Read c.go"}))

	hist, err := GetHistorical(d, 2, 30)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, old, hist[0].ID)
	assert.NotEqual(t, pendingID, hist[0].ID)
}

func TestSearch_FiltersRetrievalInvariants(t *testing.T) {
	t.Parallel()

	d := testDB(t)

	visible, err := InsertEntry(d, 1, "pkg/login.go", TypeFileChange, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, visible, Annotation{Description: "Fixed login validation", Tags: "login", SemanticGroup: "pkg"}))

	lowRel, err := InsertEntry(d, 1, "pkg/login_noise.go", TypeFileChange, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, lowRel, Annotation{Description: "login noise", Tags: "login", LowRelevance: true}))

	// Pending entries carry no description but their file_path is indexed.
	_, err = InsertEntry(d, 1, "pkg/login_pending.go", TypeFileChange, "[]")
	require.NoError(t, err)

	future, err := InsertEntry(d, 5, "pkg/login_future.go", TypeFileChange, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, future, Annotation{Description: "future login work", Tags: "login"}))

	results, err := Search(d, `"login"`, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, visible, results[0].ID)

	for _, r := range results {
		assert.Less(t, r.PromptIndex, 5)
	}
}

func TestSearch_PorterStemming(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertEntry(d, 1, "auth.go", TypeFileChange, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, id, Annotation{Description: "Refactored authentication handling", Tags: "auth"}))

	// Porter stemming matches "refactoring" against "refactored".
	results, err := Search(d, `"refactoring"`, 2)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestGroupEntries_ExcludesAndLimits(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := InsertEntry(d, i+1, "src/auth/x.go", TypeFileChange, "[]")
		require.NoError(t, err)
		require.NoError(t, AnnotateEntry(d, id, Annotation{Description: "auth work", SemanticGroup: "auth"}))
		ids = append(ids, id)
	}

	got, err := GroupEntries(d, "auth", 10, []int64{ids[4]}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest turns first, excluded id absent.
	assert.Equal(t, ids[3], got[0].ID)
	for _, r := range got {
		assert.NotEqual(t, ids[4], r.ID)
	}
}

func TestGetCounts(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	id, err := InsertEntry(d, 1, "a.go", TypeFileChange, "[]")
	require.NoError(t, err)
	require.NoError(t, AnnotateEntry(d, id, Annotation{Description: "x"}))
	_, err = InsertEntry(d, 1, "ls", TypeCommand, "[]")
	require.NoError(t, err)
	_, err = InsertSummary(d, 1, "did things", "")
	require.NoError(t, err)

	counts, err := GetCounts(d)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 1, counts.ByType[TypeFileChange])
	assert.Equal(t, 1, counts.ByType[TypeCommand])
	assert.Equal(t, 1, counts.ByType[TypeSummary])
	assert.Equal(t, 2, counts.ByStatus[StatusAnnotated])
	assert.Equal(t, 1, counts.ByStatus[StatusPending])
}

func TestImportEntry_DedupesAndIndexes(t *testing.T) {
	t.Parallel()

	d := testDB(t)
	e := Entry{
		ID:          42,
		PromptIndex: 1,
		FilePath:    "imported/file.go",
		EntryType:   TypeFileChange,
		ToolCalls:   "[]",
		Description: "Imported change to parser",
		Tags:        "parser",
		Status:      StatusAnnotated,
		CreatedAt:   1700000000000,
	}

	ok, err := ImportEntry(d, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ImportEntry(d, e)
	require.NoError(t, err)
	assert.False(t, ok, "second import of the same id is a no-op")

	results, err := Search(d, `"parser"`, 2)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	assertBijection(t, d)
}

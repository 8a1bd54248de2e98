package annotate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/distill-dev/distill/cmd/distill/cli/db"
	"github.com/distill-dev/distill/cmd/distill/cli/llm"
)

// Bounds on what one annotation run feeds the provider.
const (
	maxRetries    = 10
	maxHistorical = 30
)

// lastRunKey records the id of the most recent annotation run in session
// state, for the status command.
const lastRunKey = "last_annotation_run"

// systemPrompt fixes the response contract. The provider must return bare
// JSON; a Markdown fence is tolerated and stripped.
const systemPrompt = `You annotate activity records from a coding session so they can be retrieved later.

You receive the user's prompt for this turn, the new activity entries (with their raw tool calls), recent historical entries, and any entries from earlier turns whose annotation previously failed.

Respond with JSON only, matching exactly:
{
  "annotations": [
    {
      "id": <entry id>,
      "description": "<1-2 sentence summary of what was done>",
      "tags": ["<lowercase keyword>", ...],
      "semantic_group": "<short-kebab-case-workstream-label>",
      "related_files": ["<path>", ...],
      "confidence": <0.0-1.0>,
      "low_relevance": <true if this entry is noise not worth retrieving>
    }
  ],
  "links": [
    {"source_id": <id>, "target_id": <id>, "link_type": "depends_on"|"extends"|"reverts"|"related"}
  ],
  "prompt_summary": "<one sentence describing this turn's work>"
}

Annotate every entry you were given. Link entries to historical entries when the work continues, extends, or reverts them. Use the same semantic_group for entries in the same workstream.`

// annotationResponse is the provider's parsed reply.
type annotationResponse struct {
	Annotations []struct {
		ID            int64    `json:"id"`
		Description   string   `json:"description"`
		Tags          []string `json:"tags"`
		SemanticGroup string   `json:"semantic_group"`
		RelatedFiles  []string `json:"related_files"`
		Confidence    float64  `json:"confidence"`
		LowRelevance  bool     `json:"low_relevance"`
	} `json:"annotations"`
	Links []struct {
		SourceID int64  `json:"source_id"`
		TargetID int64  `json:"target_id"`
		LinkType string `json:"link_type"`
	} `json:"links"`
	PromptSummary string `json:"prompt_summary"`
}

// RunLLM performs one best-effort annotation pass for a turn: current
// pending entries plus up to maxRetries previously failed ones. Errors are
// reported on errw and absorbed; the hook path never sees them.
func RunLLM(ctx context.Context, d *sql.DB, provider llm.Provider, promptIndex int, errw io.Writer) {
	runID := newRunID()

	pending, err := db.GetPending(d, promptIndex)
	if err != nil {
		fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		return
	}
	retries, err := db.GetFailed(d, maxRetries)
	if err != nil {
		fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		return
	}
	if len(pending) == 0 && len(retries) == 0 {
		return
	}

	ids := make([]int64, 0, len(pending)+len(retries))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	retryIDs := make([]int64, 0, len(retries))
	for _, e := range retries {
		retryIDs = append(retryIDs, e.ID)
	}
	ids = append(ids, retryIDs...)

	if err := db.MarkAnnotating(d, ids); err != nil {
		fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		return
	}
	_ = db.SetState(d, lastRunKey, runID)

	fail := func(err error) {
		fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		_ = db.MarkFailed(d, promptIndex)
		_ = db.MarkFailedIDs(d, retryIDs)
	}

	historical, err := db.GetHistorical(d, promptIndex, maxHistorical)
	if err != nil {
		fail(err)
		return
	}
	prompt, err := db.GetPromptText(d, promptIndex)
	if err != nil {
		fail(err)
		return
	}

	message := buildMessage(prompt, pending, historical, retries)

	raw, err := provider.Annotate(ctx, systemPrompt, message)
	if err != nil {
		fail(err)
		return
	}

	var resp annotationResponse
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &resp); err != nil {
		fail(fmt.Errorf("parse response: %w", err))
		return
	}

	applied := map[int64]bool{}
	for _, a := range resp.Annotations {
		ann := db.Annotation{
			Description:   a.Description,
			Tags:          strings.ToLower(strings.Join(a.Tags, ",")),
			SemanticGroup: a.SemanticGroup,
			RelatedFiles:  a.RelatedFiles,
			Confidence:    a.Confidence,
			LowRelevance:  a.LowRelevance,
		}
		if err := db.AnnotateEntry(d, a.ID, ann); err != nil {
			fmt.Fprintf(errw, "distill: annotate %s: entry %d: %v\n", runID, a.ID, err)
			continue
		}
		applied[a.ID] = true
	}

	for _, l := range resp.Links {
		if err := db.InsertLink(d, db.Link{SourceID: l.SourceID, TargetID: l.TargetID, LinkType: l.LinkType}); err != nil {
			fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		}
	}

	if resp.PromptSummary != "" {
		if _, err := db.InsertSummary(d, promptIndex, resp.PromptSummary, ""); err != nil {
			fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		}
	}

	var missed []int64
	for _, id := range ids {
		if !applied[id] {
			missed = append(missed, id)
		}
	}
	if len(missed) > 0 {
		if err := db.MarkFailedIDs(d, missed); err != nil {
			fmt.Fprintf(errw, "distill: annotate %s: %v\n", runID, err)
		}
	}
}

// buildMessage assembles the single user message: prompt, current entries
// with raw calls, historical metadata, and retry entries, each in its own
// delimiter block.
func buildMessage(prompt string, pending []db.Entry, historical []db.HistoricalEntry, retries []db.Entry) string {
	var b strings.Builder

	b.WriteString("<user_prompt>\n")
	b.WriteString(prompt)
	b.WriteString("\n</user_prompt>\n\n")

	b.WriteString("<current_entries>\n")
	writeEntries(&b, pending)
	b.WriteString("</current_entries>\n")

	if len(historical) > 0 {
		b.WriteString("\n<historical_context>\n")
		for _, h := range historical {
			line, _ := json.Marshal(h)
			b.Write(line)
			b.WriteByte('\n')
		}
		b.WriteString("</historical_context>\n")
	}

	if len(retries) > 0 {
		b.WriteString("\n<retry_entries>\n")
		writeEntries(&b, retries)
		b.WriteString("</retry_entries>\n")
	}

	return b.String()
}

func writeEntries(b *strings.Builder, entries []db.Entry) {
	for _, e := range entries {
		record := map[string]any{
			"id":           e.ID,
			"prompt_index": e.PromptIndex,
			"file_path":    e.FilePath,
			"entry_type":   e.EntryType,
			"tool_calls":   json.RawMessage(e.ToolCalls),
		}
		line, _ := json.Marshal(record)
		b.Write(line)
		b.WriteByte('\n')
	}
}

func newRunID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Package annotate enriches stored entries with descriptions, tags, and
// semantic groups: instantly via rules (self), or asynchronously via an LLM
// provider.
package annotate

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/distill-dev/distill/cmd/distill/cli/db"
	"github.com/distill-dev/distill/cmd/distill/cli/group"
	"github.com/distill-dev/distill/cmd/distill/cli/retrieve"
)

// selfConfidence marks rule-derived annotations; advisory only, retrieval
// never filters on it.
const selfConfidence = 0.3

const (
	inlineMax = 60
	pathMax   = 80
)

// SelfAnnotate applies rule-based annotations to every pending entry at
// promptIndex and inserts the turn's summary entry. After it returns, no
// entry at that index remains pending.
func SelfAnnotate(d *sql.DB, promptIndex int) error {
	entries, err := db.GetPending(d, promptIndex)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	prompt, err := db.GetPromptText(d, promptIndex)
	if err != nil {
		return err
	}
	promptKeywords := retrieve.Keywords(prompt, 5)

	var descriptions []string
	tagUnion := newTagSet()

	for _, e := range entries {
		calls := group.DecodeCalls(e.ToolCalls)
		desc := selfDescription(e.EntryType, e.FilePath, calls)
		tags := selfTags(e, calls, promptKeywords)
		descriptions = append(descriptions, desc)
		tagUnion.addAll(tags)

		ann := db.Annotation{
			Description:   desc,
			Tags:          strings.Join(tags, ","),
			SemanticGroup: selfGroup(e.FilePath, e.EntryType),
			Confidence:    selfConfidence,
		}
		if err := db.AnnotateEntry(d, e.ID, ann); err != nil {
			return fmt.Errorf("annotate entry %d: %w", e.ID, err)
		}
	}

	summary := descriptions[0]
	if len(descriptions) > 1 {
		head := descriptions
		if len(head) > 3 {
			head = head[:3]
		}
		summary = fmt.Sprintf("%d activities: %s...", len(descriptions), strings.Join(head, "; "))
	}
	if _, err := db.InsertSummary(d, promptIndex, summary, strings.Join(tagUnion.list, ",")); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func selfDescription(entryType, filePath string, calls []group.CallSummary) string {
	short := truncate(shortPath(filePath), pathMax)

	switch entryType {
	case db.TypeFileChange:
		edits, writes := 0, 0
		for _, c := range calls {
			switch c.Tool {
			case "Edit", "NotebookEdit":
				edits++
			case "Write":
				writes++
			}
		}
		switch {
		case edits > 0:
			return fmt.Sprintf("Modified %s (%d %s)", short, edits, plural(edits, "edit"))
		case writes == len(calls):
			return "Created " + short
		default:
			return "Changed " + short
		}

	case db.TypeResearch:
		for _, c := range calls {
			if c.Tool == "Glob" || c.Tool == "Grep" {
				return fmt.Sprintf("Searched for %q", truncate(c.Key, inlineMax))
			}
		}
		for _, c := range calls {
			if c.Tool == "Read" {
				return "Read " + short
			}
		}
		for _, c := range calls {
			if c.Tool == "Task" {
				desc := c.Description
				if desc == "" {
					desc = c.Key
				}
				return "Subagent: " + truncate(desc, inlineMax)
			}
		}
		return "Researched " + short

	case db.TypeCommand:
		if len(calls) > 0 {
			if calls[0].Description != "" {
				return "Ran: " + truncate(calls[0].Description, inlineMax)
			}
			return "Ran: " + truncate(calls[0].Key, inlineMax)
		}
		return "Ran: " + truncate(filePath, inlineMax)

	case db.TypeWeb:
		if len(calls) > 0 {
			if calls[0].Tool == "WebSearch" {
				return "Web search: " + truncate(calls[0].Key, inlineMax)
			}
			return "Fetched: " + truncate(calls[0].Key, inlineMax)
		}
	}
	return "Worked on " + short
}

func selfTags(e db.Entry, calls []group.CallSummary, promptKeywords []string) []string {
	tags := newTagSet()

	if e.FilePath != "" && e.FilePath != group.UnknownKey {
		segs := pathSegments(e.FilePath)
		base := segs[len(segs)-1]
		tags.add(base)
		if i := strings.LastIndex(base, "."); i > 0 && i < len(base)-1 {
			tags.add(base[i+1:])
		}
		if len(segs) >= 2 {
			tags.add(segs[len(segs)-2])
		}
	}

	tags.add(e.EntryType)
	for _, c := range calls {
		tags.add(c.Tool)
	}
	for _, c := range calls {
		if c.Description != "" {
			tags.addAll(retrieve.Keywords(c.Description, 0))
		}
	}
	tags.addAll(promptKeywords)
	return tags.list
}

// selfGroup derives the semantic group from the key's parent directory,
// the key's single segment, or the entry type.
func selfGroup(filePath, entryType string) string {
	if filePath == "" || filePath == group.UnknownKey {
		return entryType
	}
	segs := pathSegments(filePath)
	switch {
	case len(segs) >= 2:
		return strings.ToLower(segs[len(segs)-2])
	case len(segs) == 1:
		return strings.ToLower(segs[0])
	default:
		return entryType
	}
}

// shortPath keeps at most the last three path segments.
func shortPath(p string) string {
	segs := pathSegments(p)
	if len(segs) > 3 {
		return ".../" + strings.Join(segs[len(segs)-3:], "/")
	}
	return p
}

func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return []string{p}
	}
	return segs
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// tagSet deduplicates lowercased tags while preserving insertion order.
type tagSet struct {
	list []string
	seen map[string]bool
}

func newTagSet() *tagSet {
	return &tagSet{seen: map[string]bool{}}
}

func (t *tagSet) add(tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || t.seen[tag] {
		return
	}
	t.seen[tag] = true
	t.list = append(t.list, tag)
}

func (t *tagSet) addAll(tags []string) {
	for _, tag := range tags {
		t.add(tag)
	}
}

// Package group folds a drained buffer of raw tool calls into logical
// entries: file-keyed groups for file tools, one entry per standalone tool.
package group

import (
	"encoding/json"

	"github.com/distill-dev/distill/cmd/distill/cli/buffer"
	"github.com/distill-dev/distill/cmd/distill/cli/db"
)

// UnknownKey substitutes for a missing key field in a file tool's input.
const UnknownKey = "_unknown"

// Truncation limits for stored call summaries.
const (
	maxKeyLen   = 300
	maxExtraLen = 200
)

// ignoredTools are planning/mode toggles and task-list manipulation;
// they never become entries.
var ignoredTools = map[string]bool{
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
	"AskUserQuestion": true,
	"TodoRead":        true,
	"TodoWrite":       true,
	"TaskCreate":      true,
	"TaskUpdate":      true,
	"TaskList":        true,
	"TaskGet":         true,
}

// fileTools are grouped by their path key; writeTools is the subset that
// makes a group a file_change.
var (
	fileTools = map[string]bool{
		"Read": true, "Write": true, "Edit": true,
		"Glob": true, "Grep": true, "NotebookEdit": true,
	}
	writeTools = map[string]bool{
		"Write": true, "Edit": true, "NotebookEdit": true,
	}
)

// keyFields maps each tool to the input field holding its semantic key.
var keyFields = map[string]string{
	"Read":         "file_path",
	"Write":        "file_path",
	"Edit":         "file_path",
	"NotebookEdit": "notebook_path",
	"Glob":         "pattern",
	"Grep":         "pattern",
	"Bash":         "command",
	"WebSearch":    "query",
	"WebFetch":     "url",
	"Task":         "prompt",
}

// CallSummary is the compact form of one tool call kept on an entry.
type CallSummary struct {
	Tool        string `json:"tool"`
	Key         string `json:"key,omitempty"`
	OldString   string `json:"old_string,omitempty"`
	NewString   string `json:"new_string,omitempty"`
	Glob        string `json:"glob,omitempty"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result is one logical entry produced by a flush.
type Result struct {
	FilePath  string
	EntryType string
	Calls     []CallSummary
}

// Flush folds the buffered calls into entries, preserving first-seen order
// for file groups and input order within each group. Deterministic for a
// given input list.
func Flush(calls []buffer.Call) []Result {
	type item struct {
		filePath  string
		fileKeyed bool
		calls     []CallSummary
	}

	var items []*item
	byKey := map[string]*item{}

	for _, c := range calls {
		if ignoredTools[c.ToolName] {
			continue
		}

		summary := summarize(c)

		if fileTools[c.ToolName] {
			key := summary.Key
			if key == "" {
				key = UnknownKey
				summary.Key = key
			}
			it, ok := byKey[key]
			if !ok {
				it = &item{filePath: key, fileKeyed: true}
				byKey[key] = it
				items = append(items, it)
			}
			it.calls = append(it.calls, summary)
			continue
		}

		items = append(items, &item{filePath: summary.Key, calls: []CallSummary{summary}})
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		entryType := standaloneEntryType(it.calls[0].Tool)
		if it.fileKeyed {
			entryType = fileEntryType(it.calls)
		}
		results = append(results, Result{
			FilePath:  it.filePath,
			EntryType: entryType,
			Calls:     it.calls,
		})
	}
	return results
}

// EncodeCalls renders a call summary list as the JSON stored on an entry.
func EncodeCalls(calls []CallSummary) string {
	data, err := json.Marshal(calls)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeCalls parses the stored tool_calls JSON of an entry.
func DecodeCalls(toolCalls string) []CallSummary {
	var calls []CallSummary
	if err := json.Unmarshal([]byte(toolCalls), &calls); err != nil {
		return nil
	}
	return calls
}

// IsWriteTool reports whether tool belongs to the write subset.
func IsWriteTool(tool string) bool {
	return writeTools[tool]
}

func fileEntryType(calls []CallSummary) string {
	for _, c := range calls {
		if writeTools[c.Tool] {
			return db.TypeFileChange
		}
	}
	return db.TypeResearch
}

func standaloneEntryType(tool string) string {
	switch tool {
	case "Bash":
		return db.TypeCommand
	case "WebSearch", "WebFetch":
		return db.TypeWeb
	default:
		return db.TypeResearch
	}
}

// summarize keeps the tool name, the key-field value, and a few
// tool-specific extras; everything else in the input is discarded.
func summarize(c buffer.Call) CallSummary {
	var input map[string]any
	_ = json.Unmarshal(c.ToolInput, &input)

	s := CallSummary{Tool: c.ToolName}
	if field, ok := keyFields[c.ToolName]; ok {
		s.Key = Truncate(stringField(input, field), maxKeyLen)
	}

	switch c.ToolName {
	case "Edit":
		s.OldString = Truncate(stringField(input, "old_string"), maxExtraLen)
		s.NewString = Truncate(stringField(input, "new_string"), maxExtraLen)
	case "Grep":
		s.Glob = stringField(input, "glob")
		s.Path = stringField(input, "path")
	case "Bash", "Task":
		s.Description = Truncate(stringField(input, "description"), maxExtraLen)
	}
	return s
}

// Truncate clips s to max characters, appending an ellipsis when clipped.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func stringField(input map[string]any, field string) string {
	if input == nil {
		return ""
	}
	v, _ := input[field].(string)
	return v
}

package db

// Entry types.
const (
	TypeFileChange = "file_change"
	TypeResearch   = "research"
	TypeCommand    = "command"
	TypeWeb        = "web"
	TypeSummary    = "summary"
)

// Annotation statuses.
const (
	StatusPending    = "pending"
	StatusAnnotating = "annotating"
	StatusAnnotated  = "annotated"
	StatusFailed     = "failed"
)

// Link types.
const (
	LinkDependsOn = "depends_on"
	LinkExtends   = "extends"
	LinkReverts   = "reverts"
	LinkRelated   = "related"
)

// Entry is one logical unit of recorded activity.
type Entry struct {
	ID            int64   `json:"id"`
	PromptIndex   int     `json:"prompt_index"`
	FilePath      string  `json:"file_path,omitempty"`
	EntryType     string  `json:"entry_type"`
	ToolCalls     string  `json:"tool_calls"` // JSON-encoded call summaries
	Description   string  `json:"description,omitempty"`
	Tags          string  `json:"tags,omitempty"`
	RelatedFiles  string  `json:"related_files"` // JSON-encoded path list
	SemanticGroup string  `json:"semantic_group,omitempty"`
	Confidence    float64 `json:"confidence"`
	LowRelevance  bool    `json:"low_relevance"`
	Status        string  `json:"annotation_status"`
	CreatedAt     int64   `json:"created_at"` // millisecond epoch
}

// HistoricalEntry is the metadata-only view handed to the LLM annotator.
type HistoricalEntry struct {
	ID            int64  `json:"id"`
	PromptIndex   int    `json:"prompt_index"`
	FilePath      string `json:"file_path,omitempty"`
	Description   string `json:"description,omitempty"`
	Tags          string `json:"tags,omitempty"`
	SemanticGroup string `json:"semantic_group,omitempty"`
}

// Link is a directed, typed edge between two entries.
type Link struct {
	SourceID int64  `json:"source_id"`
	TargetID int64  `json:"target_id"`
	LinkType string `json:"link_type"`
}

// Annotation carries the fields AnnotateEntry writes onto an entry.
type Annotation struct {
	Description   string
	Tags          string
	SemanticGroup string
	RelatedFiles  []string
	Confidence    float64
	LowRelevance  bool
}

// Counts summarizes a session for the status command.
type Counts struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
}

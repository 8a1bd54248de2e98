// Package buffer implements the append-only per-session log of raw tool
// calls accumulated between Stop events.
package buffer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Call is one buffered tool invocation, stored as a single JSONL record.
type Call struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	TS        int64           `json:"ts"`
}

// Append writes one call record to the session's buffer file, creating the
// buffers directory on first use.
func Append(path, toolName string, toolInput json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create buffers dir: %w", err)
	}

	if len(toolInput) == 0 {
		toolInput = json.RawMessage("{}")
	}
	line, err := json.Marshal(Call{ToolName: toolName, ToolInput: toolInput, TS: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append call: %w", err)
	}
	return nil
}

// Drain reads every buffered call and truncates the file. Malformed lines
// are dropped. A missing or empty buffer yields an empty list. The host
// serializes tool events around Stop, so truncating before parsing cannot
// race an appender.
func Drain(path string) ([]Call, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, fmt.Errorf("truncate buffer: %w", err)
	}

	var calls []Call
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var c Call
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		if c.ToolName == "" {
			continue
		}
		calls = append(calls, c)
	}
	return calls, nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/distill-dev/distill/cmd/distill/cli/annotate"
	"github.com/distill-dev/distill/cmd/distill/cli/buffer"
	"github.com/distill-dev/distill/cmd/distill/cli/config"
	"github.com/distill-dev/distill/cmd/distill/cli/db"
	"github.com/distill-dev/distill/cmd/distill/cli/group"
	"github.com/distill-dev/distill/cmd/distill/cli/retrieve"
)

// hookInput is the superset of fields the host sends on any hook event.
type hookInput struct {
	SessionID string          `json:"session_id"`
	Source    string          `json:"source,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
}

// hookOutput is the envelope written back to the host.
type hookOutput struct {
	HookSpecificOutput *hookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

type hookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// newHookCmd builds one of the four hook commands. Every failure is logged
// to stderr and swallowed: the handler always prints a JSON object and
// exits 0 so the host is never blocked.
func newHookCmd(use, short string, handler func(cmd *cobra.Command, paths Paths, in hookInput) (hookOutput, error)) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Hidden:      true,
		Annotations: map[string]string{"hook": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := hookOutput{}

			var in hookInput
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&in); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "distill: %s: decode input: %v\n", use, err)
				return emitHook(cmd.OutOrStdout(), out)
			}
			if in.SessionID == "" {
				return emitHook(cmd.OutOrStdout(), out)
			}

			paths, err := DefaultPaths()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "distill: %s: %v\n", use, err)
				return emitHook(cmd.OutOrStdout(), out)
			}
			if !hookEnabled(paths, in.CWD) {
				return emitHook(cmd.OutOrStdout(), out)
			}

			out, err = handler(cmd, paths, in)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "distill: %s: %v\n", use, err)
				out = hookOutput{}
			}
			return emitHook(cmd.OutOrStdout(), out)
		},
	}
}

func emitHook(w io.Writer, out hookOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// hookEnabled applies the enable gate: a project-local .nodistill wins,
// then a project-local .distill, then the global config flag.
func hookEnabled(paths Paths, cwd string) bool {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	if cwd != "" {
		if _, err := os.Stat(filepath.Join(cwd, ".nodistill")); err == nil {
			return false
		}
		if _, err := os.Stat(filepath.Join(cwd, ".distill")); err == nil {
			return true
		}
	}
	return config.Load(paths.ConfigFile()).IsEnabled()
}

func newSessionStartCmd() *cobra.Command {
	return newHookCmd("session-start", "Handle the SessionStart hook event",
		func(_ *cobra.Command, paths Paths, in hookInput) (hookOutput, error) {
			// Creates the schema on first open; resuming sessions reuse
			// their existing database.
			d, err := db.Open(paths.SessionDB(in.SessionID))
			if err != nil {
				return hookOutput{}, err
			}
			return hookOutput{}, d.Close()
		})
}

func newUserPromptCmd() *cobra.Command {
	return newHookCmd("user-prompt", "Handle the UserPromptSubmit hook event",
		func(_ *cobra.Command, paths Paths, in hookInput) (hookOutput, error) {
			cfg := config.Load(paths.ConfigFile())

			d, err := db.Open(paths.SessionDB(in.SessionID))
			if err != nil {
				return hookOutput{}, err
			}
			defer d.Close()

			idx, err := db.GetPromptIndex(d)
			if err != nil {
				return hookOutput{}, err
			}
			idx++
			if err := db.SetPromptIndex(d, idx); err != nil {
				return hookOutput{}, err
			}
			if err := db.SetPromptText(d, idx, in.Prompt); err != nil {
				return hookOutput{}, err
			}
			if idx <= 1 {
				return hookOutput{}, nil
			}

			context, err := retrieve.BuildContext(d, in.Prompt, idx, cfg.TokenBudget)
			if err != nil {
				return hookOutput{}, err
			}
			if context == "" {
				return hookOutput{}, nil
			}
			return hookOutput{HookSpecificOutput: &hookSpecificOutput{
				HookEventName:     "UserPromptSubmit",
				AdditionalContext: context,
			}}, nil
		})
}

func newPostToolCmd() *cobra.Command {
	return newHookCmd("post-tool", "Handle the PostToolUse hook event",
		func(_ *cobra.Command, paths Paths, in hookInput) (hookOutput, error) {
			if in.ToolName == "" {
				return hookOutput{}, nil
			}
			// Append-only; no database access on this path.
			return hookOutput{}, buffer.Append(paths.BufferFile(in.SessionID), in.ToolName, in.ToolInput)
		})
}

func newStopCmd() *cobra.Command {
	return newHookCmd("stop", "Handle the Stop hook event",
		func(cmd *cobra.Command, paths Paths, in hookInput) (hookOutput, error) {
			cfg := config.Load(paths.ConfigFile())

			calls, err := buffer.Drain(paths.BufferFile(in.SessionID))
			if err != nil {
				return hookOutput{}, err
			}
			if len(calls) == 0 {
				return hookOutput{}, nil
			}

			d, err := db.Open(paths.SessionDB(in.SessionID))
			if err != nil {
				return hookOutput{}, err
			}
			defer d.Close()

			idx, err := db.GetPromptIndex(d)
			if err != nil {
				return hookOutput{}, err
			}

			for _, r := range group.Flush(calls) {
				if _, err := db.InsertEntry(d, idx, r.FilePath, r.EntryType, group.EncodeCalls(r.Calls)); err != nil {
					return hookOutput{}, err
				}
			}

			if cfg.Annotator == config.AnnotatorHaiku {
				// The LLM call takes seconds and the hook has a timeout in
				// the hundreds of milliseconds; hand off to a detached
				// child and return immediately.
				if err := spawnDetachedAnnotate(in.SessionID, idx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "distill: stop: spawn annotator: %v\n", err)
					if err := annotate.SelfAnnotate(d, idx); err != nil {
						return hookOutput{}, err
					}
				}
				return hookOutput{}, nil
			}

			return hookOutput{}, annotate.SelfAnnotate(d, idx)
		})
}

// spawnDetachedAnnotate starts `distill annotate <session> <index>` with no
// stdio and releases the process handle so the hook can exit without
// waiting.
func spawnDetachedAnnotate(sessionID string, promptIndex int) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	child := exec.Command(self, "annotate", sessionID, strconv.Itoa(promptIndex))
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.Env = os.Environ()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start annotator: %w", err)
	}
	return child.Process.Release()
}

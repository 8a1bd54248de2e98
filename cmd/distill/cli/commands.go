package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/distill-dev/distill/cmd/distill/cli/annotate"
	"github.com/distill-dev/distill/cmd/distill/cli/config"
	"github.com/distill-dev/distill/cmd/distill/cli/db"
	"github.com/distill-dev/distill/cmd/distill/cli/llm"
	"github.com/distill-dev/distill/cmd/distill/cli/retrieve"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			paths, err := DefaultPaths()
			if err != nil {
				return err
			}

			matches, err := filepath.Glob(filepath.Join(paths.SessionsDir(), "*.db"))
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			sort.Strings(matches)

			out := cmd.OutOrStdout()
			for _, path := range matches {
				id := strings.TrimSuffix(filepath.Base(path), ".db")

				d, err := db.Open(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "distill: skip %s: %v\n", id, err)
					continue
				}
				counts, err := db.GetCounts(d)
				if err == nil {
					idx, _ := db.GetPromptIndex(d)
					fmt.Fprintf(out, "%s\t%d entries\tprompt %d\n", id, counts.Total, idx)
				}
				d.Close()
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show entry counts for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			d, _, err := openSession(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return NewSilentError(err)
			}
			defer d.Close()

			counts, err := db.GetCounts(d)
			if err != nil {
				return err
			}
			idx, err := db.GetPromptIndex(d)
			if err != nil {
				return err
			}
			lastRun, _ := db.GetState(d, "last_annotation_run")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:      %s\n", SanitizeSessionID(args[0]))
			fmt.Fprintf(out, "prompt index: %d\n", idx)
			fmt.Fprintf(out, "entries:      %d\n", counts.Total)
			for _, key := range sortedKeys(counts.ByType) {
				fmt.Fprintf(out, "  %-12s %d\n", key, counts.ByType[key])
			}
			fmt.Fprintln(out, "annotation:")
			for _, key := range sortedKeys(counts.ByStatus) {
				fmt.Fprintf(out, "  %-12s %d\n", key, counts.ByStatus[key])
			}
			if lastRun != "" {
				fmt.Fprintf(out, "last run:     %s\n", lastRun)
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Dump a session's entries as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			d, _, err := openSession(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return NewSilentError(err)
			}
			defer d.Close()

			entries, err := db.GetAllEntries(d)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				data, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("marshal entry %d: %w", e.ID, err)
				}
				fmt.Fprintln(out, string(data))
			}
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <session-id> <query>",
		Short: "Search a session's index the way retrieval does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			d, _, err := openSession(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return NewSilentError(err)
			}
			defer d.Close()

			match := retrieve.MatchQuery(args[1])
			if match == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "query has no searchable terms")
				return nil
			}

			// Search everything indexed so far: current index + 1 keeps the
			// latest turn visible to the operator.
			idx, err := db.GetPromptIndex(d)
			if err != nil {
				return err
			}
			results, err := db.Search(d, match, idx+1)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				key := r.FilePath
				if key == "" {
					key = r.EntryType
				}
				fmt.Fprintf(out, "%6.2f\t[%d]\t%s\t%s\n", r.Rank, r.PromptIndex, key, r.Description)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No matches.")
			}
			return nil
		},
	}
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <session-id> <prompt-index>",
		Short: "Run one LLM annotation pass for a turn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			promptIndex, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("prompt index %q: %w", args[1], err)
			}

			d, paths, err := openSession(args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return NewSilentError(err)
			}
			defer d.Close()

			cfg := config.Load(paths.ConfigFile())
			provider, err := llm.New(cfg)
			if err != nil {
				// Config problem, not a session problem: fail this process
				// only and leave the entries for the next retry pass.
				fmt.Fprintf(cmd.ErrOrStderr(), "distill: annotate: %v\n", err)
				_ = db.MarkFailed(d, promptIndex)
				return nil
			}

			annotate.RunLLM(context.Background(), d, provider, promptIndex, cmd.ErrOrStderr())
			return nil
		},
	}
}

// openSession opens an existing session database by id.
func openSession(sessionID string) (d *sql.DB, paths Paths, err error) {
	paths, err = DefaultPaths()
	if err != nil {
		return nil, Paths{}, err
	}
	path := paths.SessionDB(sessionID)
	if _, err := os.Stat(path); err != nil {
		return nil, Paths{}, fmt.Errorf("no such session %q", sessionID)
	}
	handle, err := db.Open(path)
	if err != nil {
		return nil, Paths{}, err
	}
	return handle, paths, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

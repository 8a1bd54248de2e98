package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/distill-dev/distill/cmd/distill/cli/db"
	"github.com/distill-dev/distill/cmd/distill/cli/snapshot"
)

func newExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session to a snapshot file",
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
			links, err := db.GetLinks(d)
			if err != nil {
				return err
			}
			state, err := allState(d)
			if err != nil {
				return err
			}

			snap := &snapshot.Session{
				SessionID: SanitizeSessionID(args[0]),
				State:     state,
			}
			for _, e := range entries {
				raw, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("encode entry %d: %w", e.ID, err)
				}
				snap.Entries = append(snap.Entries, raw)
			}
			for _, l := range links {
				raw, err := json.Marshal(l)
				if err != nil {
					return fmt.Errorf("encode link: %w", err)
				}
				snap.Links = append(snap.Links, raw)
			}

			body, err := snapshot.Encode(snap)
			if err != nil {
				return err
			}

			path := outPath
			if path == "" {
				path = snap.SessionID + ".distill"
			}
			if err := os.WriteFile(path, body, 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(snap.Entries), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default <session-id>.distill)")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a session snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			snap, err := snapshot.Decode(body)
			if err != nil {
				return err
			}

			paths, err := DefaultPaths()
			if err != nil {
				return err
			}
			d, err := db.Open(paths.SessionDB(snap.SessionID))
			if err != nil {
				return err
			}
			defer d.Close()

			var imported int
			for _, raw := range snap.Entries {
				var e db.Entry
				if err := json.Unmarshal(raw, &e); err != nil {
					continue // skip malformed entries
				}
				ok, err := db.ImportEntry(d, e)
				if err != nil {
					return err
				}
				if ok {
					imported++
				}
			}

			for _, raw := range snap.Links {
				var l db.Link
				if err := json.Unmarshal(raw, &l); err != nil {
					continue
				}
				if err := db.InsertLink(d, l); err != nil {
					return err
				}
			}

			for key, value := range snap.State {
				existing, err := db.GetState(d, key)
				if err != nil {
					return err
				}
				if existing == "" {
					if err := db.SetState(d, key, value); err != nil {
						return err
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into session %s\n", imported, snap.SessionID)
			return nil
		},
	}
}

func allState(d *sql.DB) (map[string]string, error) {
	rows, err := d.Query("SELECT key, value FROM session_state")
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	state := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}
	return state, rows.Err()
}

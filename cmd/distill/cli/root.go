package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/distill-dev/distill/cmd/distill/cli/versioncheck"
)

// Version is stamped at build time.
var Version = "0.1.0"

// NewRootCmd returns the root command for the distill CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "distill",
		Short:         "Distill — session memory for your coding assistant",
		Long:          "Distill records what your assistant did between prompts, indexes it, and hands the relevant parts back as context on the next prompt.",
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Operator convenience only; hook handlers must stay silent.
			if cmd.Annotations["hook"] == "true" {
				return
			}
			if paths, err := DefaultPaths(); err == nil {
				versioncheck.CheckAndNotify(cmd.ErrOrStderr(), paths.LatestVersionFile(), Version)
			}
		},
	}

	cmd.SetVersionTemplate("distill {{.Version}}\n")
	cmd.Version = Version

	// Hook handlers, wired into the assistant's hook configuration.
	cmd.AddCommand(newSessionStartCmd())
	cmd.AddCommand(newUserPromptCmd())
	cmd.AddCommand(newPostToolCmd())
	cmd.AddCommand(newStopCmd())

	// Operator commands.
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAnnotateCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

// Run executes the root command and exits with the appropriate code.
func Run() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !IsSilentError(err) {
			fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		}
		os.Exit(1)
	}
}

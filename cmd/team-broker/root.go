package main

import (
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Commands are built per call so tests
// get fresh flag state.
func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "team-broker",
		Short: "Broker platform credentials for teams",
		Long: `team-broker stores each team's platform credentials encrypted at rest,
runs the OAuth authorization flow on behalf of team admins, resolves the best
credential for outbound platform requests and watches stored session cookies
for expiry.`,
		Version: version,
		// Errors are reported once by Execute; usage is noise for runtime failures.
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "team-broker version %s\n" .Version}}`)

	root.AddCommand(newServeCmd(version))
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newVersionCmd(version))
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute(version string) {
	if err := newRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}

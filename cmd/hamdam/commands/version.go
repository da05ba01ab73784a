package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/version"
)

// NewVersionCmd constructs the `hamdam version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. It does not need a valid configuration.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the hamdam version, git commit, and build date",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

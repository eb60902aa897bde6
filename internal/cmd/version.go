package cmd

import (
	"github.com/dendrascience/dendra-blockstore/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates and returns the version subcommand, which prints
// the build details that --version abbreviates.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build version, commit and date",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.Fprint(cmd.OutOrStdout(), "djbs")
		},
	}
}

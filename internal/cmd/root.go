package cmd

import (
	"github.com/dendrascience/dendra-blockstore/version"
	"github.com/spf13/cobra"
)

const (
	groupServer    = "server"
	groupUtilities = "utilities"
)

// NewRootCmd creates and returns the root cobra command for the djbs CLI.
// It sets up all subcommands, command groups, and the shared --config flag.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "djbs",
		Short: "djbs - a deduplicating block store for worker jobs",
		Long: `djbs is a single node block store. Workers create File:Tag objects,
write them in fixed size blocks over a local socket, and commit them. Committed
blocks with identical content are stored once.

Use subcommands to perform different operations:
  - serve: Run the storage server
  - mount: Mount the store read-only through FUSE
  - format: Create an empty store
  - validate: Check owner counts, links and the content index
  - count: Show block and object counts
  - export: Copy a committed object out of the store
  - seed: Write test objects through a running server`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config (default $"+configEnvVar+")")
	rootCmd.PersistentFlags().String("root", "", "Storage directory, overriding the config")

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupServer,
		Title: "Server Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	serveCmd := NewServeCmd()
	mountCmd := NewMountCmd()
	formatCmd := NewFormatCmd()
	validateCmd := NewValidateCmd()
	countCmd := NewCountCmd()
	exportCmd := NewExportCmd()
	seedCmd := NewSeedCmd()
	versionCmd := NewVersionCmd()

	serveCmd.GroupID = groupServer
	mountCmd.GroupID = groupServer
	formatCmd.GroupID = groupUtilities
	validateCmd.GroupID = groupUtilities
	countCmd.GroupID = groupUtilities
	exportCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities
	versionCmd.GroupID = groupUtilities

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

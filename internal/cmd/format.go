package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewFormatCmd creates and returns the format subcommand, which builds an
// empty store from the configured geometry.
func NewFormatCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Create an empty store",
		Long: `Create an empty store at the configured root.

Any bitmap, physical blocks, content index and objects already under the root
are removed. Pass --yes to confirm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to format %s without --yes", cfg.Root)
			}
			st, err := openStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Formatted %s: %d blocks of %d bytes (%s)\n",
				st.Root(), st.BlockCount(), st.BlockSize(), st.Digest())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm wiping the storage directory")

	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCmd creates and returns the validate subcommand. It checks
// the store for leaked blocks, miscounted owners and stale index entries.
func NewValidateCmd() *cobra.Command {
	var (
		verbose bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check owner counts, links and the content index",
		Long: `Validate a stopped store for consistency.

Every object's logical blocks are compared against the bitmap, the owner
counts rebuilt from metadata, and the link count of each physical block file.
Index entries whose block no longer holds the recorded content are reported.
With --repair, leaked blocks are released and stale index entries dropped.

Do not run this against a store a server has open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st, err := openStore(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			if verbose {
				fmt.Fprintf(out, "Validating djbs store at %s\n", st.Root())
			}
			report, err := st.Validate(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Objects checked: %d\n", report.ObjectsChecked)
			fmt.Fprintf(out, "Blocks checked: %d\n", report.BlocksChecked)
			for _, p := range report.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			if verbose {
				for d, b := range report.Stale {
					fmt.Fprintf(out, "  stale index entry %s -> block %d\n", d.Short(), b)
				}
			}
			if report.OK() {
				fmt.Fprintln(out, "Store is consistent")
				return nil
			}

			if !repair {
				return fmt.Errorf("store has %d problems", len(report.Problems))
			}
			released, dropped, err := st.Repair(cmd.Context(), report)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Released %d leaked blocks, dropped %d stale index entries\n", released, dropped)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVar(&repair, "repair", false, "Release leaked blocks and drop stale index entries")

	return cmd
}

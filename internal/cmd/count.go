package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewCountCmd creates and returns the count subcommand, which prints block
// and object statistics for a store.
func NewCountCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Show block and object counts",
		Long: `Show how many physical blocks are occupied, how many objects and
logical blocks reference them, and how much the content index has deduplicated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Block size\t%d\n", stats.BlockSize)
			fmt.Fprintf(tw, "Blocks\t%d / %d occupied\n", stats.BlocksOccupied, stats.BlocksTotal)
			fmt.Fprintf(tw, "Objects\t%d (%d committed)\n", stats.Objects, stats.Committed)
			fmt.Fprintf(tw, "Logical blocks\t%d\n", stats.LogicalBlocks)
			fmt.Fprintf(tw, "Index entries\t%d\n", stats.IndexEntries)
			if stats.BlocksOccupied > 0 {
				fmt.Fprintf(tw, "Sharing ratio\t%.2f\n", float64(stats.LogicalBlocks)/float64(stats.BlocksOccupied))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")

	return cmd
}

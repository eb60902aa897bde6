package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dendrascience/dendra-blockstore/util"
	"github.com/spf13/cobra"
)

// NewExportCmd creates and returns the export subcommand, which copies a
// committed object out of the store, optionally compressed.
func NewExportCmd() *cobra.Command {
	var (
		output    string
		codecName string
		verify    string
	)

	cmd := &cobra.Command{
		Use:   "export FILE TAG",
		Short: "Copy a committed object out of the store",
		Long: `Copy the content of a committed File:Tag to a file or stdout.

The codec defaults to the output extension (.zst or .lz4) and to none for
stdout or other extensions. The digest printed is of the uncompressed content;
with --verify the export fails unless it matches the given hex digest.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			var want util.Digest
			if verify != "" {
				if want, err = util.ParseDigest(verify); err != nil {
					return err
				}
			}

			codec := util.CodecNone
			if output != "-" {
				codec = util.CodecFromPath(output)
			}
			if codecName != "" {
				if codec, err = util.ParseCodec(codecName); err != nil {
					return err
				}
			}

			st, err := openStore(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			var dst io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}

			zw, err := util.NewCompressWriter(codec, dst)
			if err != nil {
				return err
			}
			h := st.Digest().New()
			n, err := st.Export(cmd.Context(), args[0], args[1], io.MultiWriter(zw, h))
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
			var got util.Digest
			copy(got[:], h.Sum(nil))
			if err == nil && verify != "" && got != want {
				err = fmt.Errorf("%w: exported %s, expected %s", util.ErrDigestMismatch, got, want)
			}
			if err != nil {
				if output != "-" {
					err = errors.Join(err, os.Remove(output))
				}
				return err
			}
			if f, ok := dst.(*os.File); ok && output != "-" {
				if err := f.Sync(); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s:%s, %d bytes, %s %s\n",
				args[0], args[1], n, st.Digest(), got)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output path, - for stdout")
	cmd.Flags().StringVar(&codecName, "codec", "", "Compression: none, zstd or lz4")
	cmd.Flags().StringVar(&verify, "verify", "", "Expected hex digest of the content")

	return cmd
}

package cmd

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/dendrascience/dendra-blockstore/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type seedOptions struct {
	objects int
	blocks  int
	pool    int
	workers int
	tag     bool
	verbose bool
}

// NewSeedCmd creates and returns the seed subcommand. It writes test
// objects through a running server, drawing block content from a small
// pool so that commits deduplicate.
func NewSeedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write test objects through a running server",
		Long: `Write randomized test objects through a running djbs server.

Each object gets a UUID file name and is filled with blocks chosen from a pool
of distinct block contents, then committed. With a pool smaller than the total
number of blocks written, committed objects share physical blocks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := client.Dial(cmd.Context(), cfg.Listen.Network, cfg.Listen.Address, client.Options{
				Worker:     "seed-" + uuid.NewString()[:8],
				Timeout:    time.Minute,
				MaxPayload: uint32(cfg.MaxPayload),
			})
			if err != nil {
				return err
			}
			defer c.Close()

			start := time.Now()
			written, err := runSeed(cmd.Context(), c, opts, func(format string, a ...any) {
				if opts.verbose {
					fmt.Fprintf(cmd.OutOrStdout(), format, a...)
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d objects (%d blocks) in %s\n",
				written, written*int64(opts.blocks), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.objects, "count", "n", 100, "Number of objects to create")
	cmd.Flags().IntVar(&opts.blocks, "blocks", 4, "Blocks per object")
	cmd.Flags().IntVar(&opts.pool, "pool", 16, "Number of distinct block contents")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 4, "Concurrent requests")
	cmd.Flags().BoolVar(&opts.tag, "tag", false, "Also tag each object as FILE:copy")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

// runSeed creates opts.objects committed objects through c and returns how
// many were written.
func runSeed(ctx context.Context, c *client.Client, opts seedOptions, progress func(string, ...any)) (int64, error) {
	if opts.objects <= 0 || opts.blocks <= 0 || opts.pool <= 0 || opts.workers <= 0 {
		return 0, fmt.Errorf("count, blocks, pool and workers must be positive")
	}
	bs := c.BlockSize()
	pool := make([][]byte, opts.pool)
	for i := range pool {
		id := uuid.New()
		pool[i] = bytes.Repeat(id[:], int(bs)/len(id)+1)[:bs]
	}

	var written atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for i := range opts.objects {
		job := uint64(i + 1)
		g.Go(func() error {
			file := uuid.NewString()
			content := make([]byte, 0, int64(opts.blocks)*bs)
			for range opts.blocks {
				pick, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
				if err != nil {
					return err
				}
				content = append(content, pool[pick.Int64()]...)
			}

			steps := []func() error{
				func() error { return c.Create(ctx, job, file, "v1") },
				func() error { return c.Truncate(ctx, job, file, "v1", uint64(len(content))) },
				func() error { return c.Write(ctx, job, file, "v1", 0, content) },
				func() error { return c.Commit(ctx, job, file, "v1") },
			}
			if opts.tag {
				steps = append(steps, func() error { return c.Tag(ctx, job, file, "v1", file, "copy") })
			}
			for _, step := range steps {
				if err := step(); err != nil {
					return fmt.Errorf("seeding %s: %w", file, err)
				}
			}

			if n := written.Add(1); n%100 == 0 {
				progress("Created %d/%d objects...\n", n, opts.objects)
			}
			return nil
		})
	}
	err := g.Wait()
	return written.Load(), err
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/dendra-blockstore/blockfs"
	"github.com/dendrascience/dendra-blockstore/version"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand. It exposes every
// File:Tag as a read-only file under MOUNTPOINT/FILE/TAG.
func NewMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount the store read-only through FUSE",
		Long: `Mount the configured store read-only at MOUNTPOINT.

Each file name becomes a directory holding one regular file per tag. Reads are
served from the physical blocks the object references. The mountpoint must not
be inside the storage directory, nor contain it.`,
		Args: cobra.ExactArgs(1),
		RunE: runMount,
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	mountpoint := args[0]
	if pathsOverlap(cfg.Root, mountpoint) {
		return fmt.Errorf("mountpoint %s overlaps storage directory %s", mountpoint, cfg.Root)
	}

	logger.Info("djbs mount starting", version.LogAttrs()...)
	st, err := openStore(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return fmt.Errorf("creating mountpoint: %w", err)
	}
	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("djbs"),
		fuse.Subtype("djbs"),
		fuse.ReadOnly(),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		logger.Info("received interrupt signal, unmounting", "mountpoint", mountpoint)
		if err := fuse.Unmount(mountpoint); err != nil {
			logger.Error("unmount failed", "mountpoint", mountpoint, "error", err)
		}
	}()

	logger.Info("store mounted", "mountpoint", mountpoint, "root", st.Root())
	if err := fs.Serve(c, blockfs.NewFS(st, logger)); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// pathsOverlap reports whether one path is the other or lies beneath it.
// Relative paths are resolved against the working directory.
func pathsOverlap(path1, path2 string) bool {
	abs1, err := filepath.Abs(path1)
	if err != nil {
		return false
	}
	abs2, err := filepath.Abs(path2)
	if err != nil {
		return false
	}
	within := func(parent, child string) bool {
		rel, err := filepath.Rel(parent, child)
		if err != nil {
			return false
		}
		return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
	}
	return within(abs1, abs2) || within(abs2, abs1)
}

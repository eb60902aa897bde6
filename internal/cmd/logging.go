package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dendrascience/dendra-blockstore/config"
	"github.com/dendrascience/dendra-blockstore/store"
	"github.com/dendrascience/dendra-blockstore/util"
	"github.com/spf13/cobra"
)

const configEnvVar = config.EnvVar

// newLogger builds the process logger from the log section of the config.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", cfg.Format)
}

// setup loads the config named by --config, applies --root and any
// command specific overrides, and builds the logger it describes.
func setup(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Root = root
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore formats a store from cfg when fresh. Otherwise it attaches and
// takes geometry from the store itself, failing only when cfg names a
// different digest.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, fresh bool) (*store.Store, error) {
	if _, err := util.ParseDigestAlgorithm(cfg.Digest); err != nil {
		return nil, err
	}
	opts := store.Options{
		Root:       cfg.Root,
		Digest:     util.DigestAlgorithm(cfg.Digest),
		Fresh:      fresh,
		SyncWrites: cfg.SyncWrites,
		Logger:     logger,
	}
	if fresh {
		opts.BlockSize = int64(cfg.BlockSize)
		opts.TotalSize = int64(cfg.TotalSize)
	}
	st, err := store.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !fresh && (st.BlockSize() != int64(cfg.BlockSize) || st.BlockCount()*st.BlockSize() != int64(cfg.TotalSize)) {
		logger.Warn("store geometry differs from config, using the store's",
			"block_size", st.BlockSize(), "blocks", st.BlockCount(),
			"config_block_size", int64(cfg.BlockSize), "config_total_size", int64(cfg.TotalSize))
	}
	return st, nil
}

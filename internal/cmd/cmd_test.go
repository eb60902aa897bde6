package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/dendra-blockstore/client"
	"github.com/dendrascience/dendra-blockstore/config"
	"github.com/dendrascience/dendra-blockstore/server"
	"github.com/dendrascience/dendra-blockstore/store"
	"github.com/dendrascience/dendra-blockstore/util"
)

// writeConfig writes a small store config and returns its path and root.
// Extra lines are appended to the YAML body.
func writeConfig(t *testing.T, extra ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	path := filepath.Join(dir, "djbs.yaml")
	body := "root: " + root + "\nblock_size: 4KiB\ntotal_size: 64KiB\nlog:\n  level: warn\n"
	for _, line := range extra {
		body += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, root
}

// configFor writes a config for an existing root.
func configFor(t *testing.T, root string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "djbs.yaml")
	body := "root: " + root + "\nlog:\n  level: warn\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

func TestFormatRequiresYes(t *testing.T) {
	cfg, root := writeConfig(t)
	_, err := execute(t, "format", "--config", cfg)
	require.Error(t, err)
	assert.NoDirExists(t, root)
}

func TestFormatCountValidate(t *testing.T) {
	cfg, root := writeConfig(t)

	out, err := execute(t, "format", "--config", cfg, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "16 blocks of 4096 bytes")
	assert.FileExists(t, filepath.Join(root, "bitmap.bin"))

	out, err = execute(t, "count", "--config", cfg, "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 16, stats.BlocksTotal)
	assert.EqualValues(t, 1, stats.BlocksOccupied)
	assert.EqualValues(t, 1, stats.Objects)

	out, err = execute(t, "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Store is consistent")
}

func TestRootFlagOverridesConfig(t *testing.T) {
	cfg, root := writeConfig(t)
	other := filepath.Join(t.TempDir(), "other")

	_, err := execute(t, "format", "--config", cfg, "--root", other, "--yes")
	require.NoError(t, err)
	assert.DirExists(t, other)
	assert.NoDirExists(t, root)
}

func TestExportCompressed(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, err := execute(t, "format", "--config", cfg, "--yes")
	require.NoError(t, err)

	for _, ext := range []string{".zst", ".lz4", ".raw"} {
		t.Run(ext, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "zero"+ext)
			_, err := execute(t, "export", store.BootstrapFile, store.BootstrapTag, "--config", cfg, "-o", out)
			require.NoError(t, err)

			f, err := os.Open(out)
			require.NoError(t, err)
			defer f.Close()
			r, err := util.NewDecompressReader(util.CodecFromPath(out), f)
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, 4096), data)
		})
	}

	zero := util.DefaultDigest.Sum(make([]byte, 4096))
	out := filepath.Join(t.TempDir(), "verified")
	_, err = execute(t, "export", store.BootstrapFile, store.BootstrapTag, "--config", cfg, "-o", out, "--verify", zero.String())
	require.NoError(t, err)
	assert.FileExists(t, out)

	other := util.DefaultDigest.Sum([]byte("other"))
	_, err = execute(t, "export", store.BootstrapFile, store.BootstrapTag, "--config", cfg, "-o", out, "--verify", other.String())
	assert.ErrorIs(t, err, util.ErrDigestMismatch)
	assert.NoFileExists(t, out)

	_, err = execute(t, "export", store.BootstrapFile, store.BootstrapTag, "--config", cfg, "--verify", "nothex")
	assert.ErrorIs(t, err, util.ErrInvalidDigest)

	_, err = execute(t, "export", "missing", "tag", "--config", cfg, "-o", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunSeedDeduplicates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), store.Options{
		Root:      t.TempDir(),
		BlockSize: 4096,
		TotalSize: 64 * 4096,
		Fresh:     true,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir, err := os.MkdirTemp("", "djbs")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	scfg := server.DefaultConfig()
	scfg.Address = filepath.Join(dir, "s.sock")
	srv := server.New(st, scfg, logger, nil)
	ln, err := srv.Listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := client.Dial(ctx, "unix", scfg.Address, client.Options{Worker: "test"})
	require.NoError(t, err)
	defer c.Close()

	var progress []string
	n, err := runSeed(ctx, c, seedOptions{objects: 10, blocks: 2, pool: 3, workers: 3, tag: true},
		func(format string, a ...any) { progress = append(progress, format) })
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 21, stats.Objects)
	assert.EqualValues(t, 11, stats.Committed)
	assert.EqualValues(t, 41, stats.LogicalBlocks)
	assert.LessOrEqual(t, stats.BlocksOccupied, int64(4))

	report, err := st.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), strings.Join(report.Problems, "\n"))

	_, err = runSeed(ctx, c, seedOptions{}, nil)
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "djbs version "), out)
}

func TestAttachTakesDigestAndGeometryFromStore(t *testing.T) {
	cfg, root := writeConfig(t, "digest: sha256")
	_, err := execute(t, "format", "--config", cfg, "--yes")
	require.NoError(t, err)

	// No digest or geometry named: the store's own are used.
	out, err := execute(t, "count", "--config", configFor(t, root), "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 16, stats.BlocksTotal)

	zero := util.DigestSHA256.Sum(make([]byte, 4096))
	_, err = execute(t, "export", store.BootstrapFile, store.BootstrapTag,
		"--config", configFor(t, root), "-o", filepath.Join(t.TempDir(), "z"), "--verify", zero.String())
	require.NoError(t, err)

	_, err = execute(t, "count", "--config", configFor(t, root, "digest: blake3"))
	assert.ErrorIs(t, err, util.ErrDigestMismatch)
}

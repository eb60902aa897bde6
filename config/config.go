// Package config loads the djbs YAML configuration file.
//
// The file is located by the --config flag or, failing that, the
// DJBS_CONFIG environment variable. Every field has a default so a
// minimal file only names the storage root:
//
//	root: /var/lib/djbs
//	block_size: 4KiB
//	total_size: 1GiB
//	digest: blake3
//	listen:
//	  network: unix
//	  address: /run/djbs/storage.sock
//	max_payload: 64MiB
//	metrics_listen: 127.0.0.1:9464
//	log:
//	  level: info
//	  format: text
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dendrascience/dendra-blockstore/util"
)

// EnvVar names the environment variable consulted when no path is given.
const EnvVar = "DJBS_CONFIG"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete djbs configuration.
type Config struct {
	// Root is the storage directory.
	Root string `yaml:"root"`

	BlockSize ByteSize `yaml:"block_size"`
	TotalSize ByteSize `yaml:"total_size"`

	// Digest is blake3 or sha256. Empty formats with blake3 and attaches
	// with whatever the store was formatted with.
	Digest string `yaml:"digest"`

	Listen ListenConfig `yaml:"listen"`

	MaxPayload ByteSize `yaml:"max_payload"`

	// MetricsListen is the host:port of the /metrics endpoint. Empty
	// disables it.
	MetricsListen string `yaml:"metrics_listen"`

	// SyncWrites forces every block write to stable storage.
	SyncWrites bool `yaml:"sync_writes"`

	Log LogConfig `yaml:"log"`
}

type ListenConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for fields the file omits.
func Default() *Config {
	return &Config{
		Root:      "djbs-data",
		BlockSize: 4 << 10,
		TotalSize: 1 << 30,
		Listen: ListenConfig{
			Network: "unix",
			Address: "djbs.sock",
		},
		MaxPayload: 64 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, or the file named by DJBS_CONFIG when path is empty.
// With neither it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file leaves the defaults in place.
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// expandPaths expands ${HOME} style variables and a leading ~.
func (c *Config) expandPaths() {
	expand := func(p string) string {
		p = os.ExpandEnv(p)
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		return p
	}
	c.Root = expand(c.Root)
	if c.Listen.Network == "unix" {
		c.Listen.Address = expand(c.Listen.Address)
	}
}

// Validate checks field values and geometry.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, fmt.Errorf("%w: root is empty", ErrInvalid))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: block_size must be positive", ErrInvalid))
	}
	if c.TotalSize < c.BlockSize {
		errs = append(errs, fmt.Errorf("%w: total_size %d is smaller than one block", ErrInvalid, c.TotalSize))
	} else if c.BlockSize > 0 && c.TotalSize%c.BlockSize != 0 {
		errs = append(errs, fmt.Errorf("%w: total_size %d is not a multiple of block_size %d", ErrInvalid, c.TotalSize, c.BlockSize))
	}
	if _, err := util.ParseDigestAlgorithm(c.Digest); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	switch c.Listen.Network {
	case "unix", "tcp", "tcp4", "tcp6":
	default:
		errs = append(errs, fmt.Errorf("%w: listen.network %q", ErrInvalid, c.Listen.Network))
	}
	if c.Listen.Address == "" {
		errs = append(errs, fmt.Errorf("%w: listen.address is empty", ErrInvalid))
	}
	if c.MaxPayload < c.BlockSize || c.MaxPayload > 1<<32-1 {
		errs = append(errs, fmt.Errorf("%w: max_payload %d must hold a block and fit in 32 bits", ErrInvalid, c.MaxPayload))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format))
	}
	return errors.Join(errs...)
}

// ByteSize is a size in bytes that also accepts KiB/MiB/GiB suffixes.
type ByteSize int64

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
	{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}, {"B", 1},
}

// ParseByteSize parses "4096", "4KiB" or "1G".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			mult = sfx.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size: %w", err)
	}
	return ByteSize(n * mult), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return int64(b), nil
}

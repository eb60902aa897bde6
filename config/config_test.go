package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "djbs.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
root: /srv/djbs
block_size: 8KiB
total_size: 64MiB
digest: sha256
listen:
  network: tcp
  address: 127.0.0.1:7070
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Root != "/srv/djbs" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.BlockSize != 8192 {
		t.Errorf("BlockSize = %d, want 8192", cfg.BlockSize)
	}
	if cfg.TotalSize != 64<<20 {
		t.Errorf("TotalSize = %d, want %d", cfg.TotalSize, 64<<20)
	}
	if cfg.Listen.Network != "tcp" || cfg.Listen.Address != "127.0.0.1:7070" {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.MaxPayload != Default().MaxPayload {
		t.Errorf("MaxPayload = %d, want default", cfg.MaxPayload)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "root: ${DJBS_TEST_ROOT}/data\n")
	t.Setenv(EnvVar, path)
	t.Setenv("DJBS_TEST_ROOT", "/tmp/x")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Root != "/tmp/x/data" {
		t.Errorf("Root = %q, want /tmp/x/data", cfg.Root)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BlockSize != Default().BlockSize {
		t.Errorf("BlockSize = %d, want default", cfg.BlockSize)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "blocksize: 4096\n")); err == nil {
		t.Error("Load() accepted an unknown field")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Root = "" }},
		{"zero block", func(c *Config) { c.BlockSize = 0 }},
		{"unaligned total", func(c *Config) { c.TotalSize = c.BlockSize*3 + 1 }},
		{"total below block", func(c *Config) { c.TotalSize = c.BlockSize / 2 }},
		{"digest", func(c *Config) { c.Digest = "md5" }},
		{"network", func(c *Config) { c.Listen.Network = "udp" }},
		{"payload below block", func(c *Config) { c.MaxPayload = c.BlockSize - 1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := map[string]ByteSize{
		"4096":  4096,
		"4KiB":  4096,
		"4K":    4096,
		"2 MiB": 2 << 20,
		"1G":    1 << 30,
		"512B":  512,
	}
	for in, want := range tests {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseByteSize("lots"); err == nil {
		t.Error("ParseByteSize(lots) should fail")
	}
}

package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDescriptor_SaveLoad(t *testing.T) {
	dir := t.TempDir()

	d := NewDescriptor(4096, 256, DigestSHA256)
	if err := d.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); err != nil {
		t.Fatalf("descriptor file not written: %v", err)
	}

	loaded, err := LoadDescriptor(dir)
	if err != nil {
		t.Fatalf("LoadDescriptor() error = %v", err)
	}
	if loaded.BlockSize != 4096 || loaded.BlockCount != 256 || loaded.Digest != DigestSHA256 {
		t.Errorf("LoadDescriptor() = %+v, want geometry 4096/256/sha256", loaded)
	}
	if loaded.DJBSVersion == "" {
		t.Error("expected version to be recorded")
	}
}

func TestDescriptor_Compatible(t *testing.T) {
	d := NewDescriptor(4096, 16, DigestBLAKE3)

	if err := d.Compatible(4096, DigestBLAKE3); err != nil {
		t.Errorf("Compatible() unexpected error = %v", err)
	}
	if err := d.Compatible(8192, DigestBLAKE3); err == nil {
		t.Error("expected block size mismatch to be rejected")
	}
	if err := d.Compatible(4096, DigestSHA256); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Compatible() error = %v, want ErrDigestMismatch", err)
	}
}

func TestWriteJSONFile_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.config")

	if err := WriteJSONFile(path, map[string]int{"size": 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSONFile(path, map[string]int{"size": 2}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var got map[string]int
	if err := ReadJSONFile(path, &got); err != nil {
		t.Fatalf("ReadJSONFile() error = %v", err)
	}
	if got["size"] != 2 {
		t.Errorf("size = %d, want 2", got["size"])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the record to remain, found %d entries", len(entries))
	}
}

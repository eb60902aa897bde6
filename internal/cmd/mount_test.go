package cmd

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsOverlap(t *testing.T) {
	tests := []struct {
		name     string
		path1    string
		path2    string
		expected bool
	}{
		{
			name:     "identical paths",
			path1:    "/tmp/storage",
			path2:    "/tmp/storage",
			expected: true,
		},
		{
			name:     "path1 contains path2",
			path1:    "/tmp/storage/data",
			path2:    "/tmp/storage",
			expected: true,
		},
		{
			name:     "path2 contains path1",
			path1:    "/tmp/storage",
			path2:    "/tmp/storage/mount",
			expected: true,
		},
		{
			name:     "completely separate paths",
			path1:    "/tmp/storage",
			path2:    "/mnt/mount",
			expected: false,
		},
		{
			name:     "sibling directories",
			path1:    "/tmp/storage",
			path2:    "/tmp/mount",
			expected: false,
		},
		{
			name:     "relative paths - overlapping",
			path1:    "storage",
			path2:    "storage/mount",
			expected: true,
		},
		{
			name:     "relative paths - separate",
			path1:    "storage",
			path2:    "mount",
			expected: false,
		},
		{
			name:     "shared name prefix",
			path1:    "/tmp/storage",
			path2:    "/tmp/storage-mnt",
			expected: false,
		},
		{
			name:     "dot-dot escapes the store",
			path1:    "/tmp/storage",
			path2:    "/tmp/storage/../mount",
			expected: false,
		},
		{
			name:     "trailing slash",
			path1:    "/tmp/storage/",
			path2:    "/tmp/storage/physical_blocks",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := pathsOverlap(tt.path1, tt.path2)
			if result != tt.expected {
				t.Errorf("pathsOverlap(%q, %q) = %v, expected %v", tt.path1, tt.path2, result, tt.expected)
			}
		})
	}
}

func TestMountRefusesStorageRoot(t *testing.T) {
	cfg, root := writeConfig(t)

	for _, mountpoint := range []string{root, filepath.Join(root, "view"), filepath.Dir(root)} {
		_, err := execute(t, "mount", "--config", cfg, mountpoint)
		if err == nil || !strings.Contains(err.Error(), "overlaps storage directory") {
			t.Errorf("mount %s: error = %v, want overlap refusal", mountpoint, err)
		}
	}
}

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestGetVersionPrefersLdflags(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v9.9.9"
	if got := GetVersion(); got != "v9.9.9" {
		t.Errorf("GetVersion() = %q, want v9.9.9", got)
	}
}

func TestFullVersionShortensCommit(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })

	Version, Commit, Date = "v1.0.0", "0123456789abcdef", "2026-01-02T00:00:00Z"
	want := "v1.0.0 (0123456, built 2026-01-02T00:00:00Z)"
	if got := GetFullVersion(); got != want {
		t.Errorf("GetFullVersion() = %q, want %q", got, want)
	}
}

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, "djbs")
	out := buf.String()
	for _, want := range []string{"djbs version", "Package: dendra-blockstore", "Commit:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Fprint output missing %q:\n%s", want, out)
		}
	}
	if n := len(LogAttrs()); n != 3 {
		t.Errorf("LogAttrs() returned %d attrs, want 3", n)
	}
}

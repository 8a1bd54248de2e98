package versioncheck

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func marker(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "latest_version")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckAndNotify_NewerAvailable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	CheckAndNotify(&buf, marker(t, "0.2.0\n"), "0.1.0")
	if buf.Len() == 0 {
		t.Error("expected an upgrade hint")
	}
}

func TestCheckAndNotify_UpToDate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	CheckAndNotify(&buf, marker(t, "0.1.0"), "0.1.0")
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestCheckAndNotify_MissingMarker(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	CheckAndNotify(&buf, filepath.Join(t.TempDir(), "absent"), "0.1.0")
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestCheckAndNotify_GarbageMarker(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	CheckAndNotify(&buf, marker(t, "not a version"), "0.1.0")
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

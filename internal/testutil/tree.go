package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTree creates files under root from slash-separated relative paths.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// ReadFile returns the content of a slash-separated path under root.
func ReadFile(t testing.TB, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// TestsDir lays out a tests directory with fixtures and scenario files and
// returns its path. Fixture files are keyed "<fixture id>/<path>".
func TestsDir(t testing.TB, fixtures map[string]string, scenarios map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteTree(t, filepath.Join(root, "fixtures"), fixtures)
	WriteTree(t, filepath.Join(root, "scenarios"), scenarios)
	return root
}

// Package testutil holds helpers shared by the ingestion test suites.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ContextWithTimeout returns a context cancelled on test cleanup.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WriteFile writes lines joined by newlines to dir/rel, creating parents.
func WriteFile(t *testing.T, dir, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// CollectionTree creates an empty temp/outputs tree and returns its path.
// Exports go under <platform>/<account>/<shop>/<domain>/<granularity>/.
func CollectionTree(t *testing.T) string {
	t.Helper()
	outputs := filepath.Join(t.TempDir(), "temp", "outputs")
	require.NoError(t, os.MkdirAll(outputs, 0o755))
	return outputs
}

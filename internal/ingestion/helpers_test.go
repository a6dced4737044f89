package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/rohankatakam/repograph/internal/treesitter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	aSource = `import React from "react";
import { helper } from "./b";

export function render() {
  return helper();
}
`
	bSource = `export function helper() {
  return 1;
}
`
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeRepo lays out src/a.ts importing src/b.ts plus noise that is never indexed
func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.ts"), aSource)
	writeFile(t, filepath.Join(root, "src", "b.ts"), bSource)
	writeFile(t, filepath.Join(root, "README.md"), "# repo\n")
	writeFile(t, filepath.Join(root, "node_modules", "react", "index.js"), "module.exports = {}\n")
	writeFile(t, filepath.Join(root, "public", "app.min.js"), "var a=1;\n")
	return root
}

func newParser(t *testing.T) *treesitter.Parser {
	t.Helper()
	registry, err := treesitter.NewRegistry()
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	return treesitter.NewParser(registry)
}

func newTracker(t *testing.T, root string) *tracker.Tracker {
	t.Helper()
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	tr, err := tracker.New(m, tracker.WithLogger(quietLogger()))
	require.NoError(t, err)
	return tr
}

func newMemorySync() (*graph.Synchronizer, *graph.MemoryBackend) {
	backend := graph.NewMemoryBackend()
	return graph.NewSynchronizer(backend, graph.WithLogger(quietLogger())), backend
}

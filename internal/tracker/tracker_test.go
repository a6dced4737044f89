package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, root string, opts ...Option) *Tracker {
	t.Helper()
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	tr, err := New(m, opts...)
	require.NoError(t, err)
	return tr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTracker_HasChanged(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "index.ts")
	writeFile(t, path, "export function foo() {}\n")
	tr := newTracker(t, root)

	changed, err := tr.HasChanged(path)
	require.NoError(t, err)
	assert.True(t, changed, "untracked file is new")

	changed, err = tr.HasChanged(path)
	require.NoError(t, err)
	assert.False(t, changed, "metadata fast path")

	t.Run("touch without edit is unchanged", func(t *testing.T) {
		later := time.Now().Add(2 * time.Hour)
		require.NoError(t, os.Chtimes(path, later, later))

		changed, err := tr.HasChanged(path)
		require.NoError(t, err)
		assert.False(t, changed)

		fp, ok := tr.Lookup(path)
		require.True(t, ok)
		assert.True(t, fp.ModTime.Equal(later), "metadata refreshed after hash matched")
	})

	t.Run("one byte edit is changed", func(t *testing.T) {
		before, _ := tr.Lookup(path)
		writeFile(t, path, "export function fop() {}\n")
		later := time.Now().Add(4 * time.Hour)
		require.NoError(t, os.Chtimes(path, later, later))

		changed, err := tr.HasChanged(path)
		require.NoError(t, err)
		assert.True(t, changed)

		after, _ := tr.Lookup(path)
		assert.NotEqual(t, before.Hash, after.Hash)
	})
}

func TestTracker_HasChangedMissingFile(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, t.TempDir())
	_, err := tr.HasChanged(filepath.Join(t.TempDir(), "missing.ts"))
	assert.Error(t, err)
}

func TestTracker_Scan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.ts"), "export function foo() {}\n")
	writeFile(t, filepath.Join(root, "src", "util.ts"), "import { foo } from '../index'\n")
	writeFile(t, filepath.Join(root, "node_modules", "lib", "index.js"), "module.exports = 1\n")
	writeFile(t, filepath.Join(root, "dist", "out.js"), "x\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref\n")
	tr := newTracker(t, root)

	changed, err := tr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "index.ts"),
		filepath.Join(root, "src", "util.ts"),
	}, changed)
	assert.Equal(t, 2, tr.Len(), "ignored paths are never fingerprinted")

	changed, err = tr.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)

	writeFile(t, filepath.Join(root, "src", "new.ts"), "export const a = 1\n")
	changed, err = tr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "src", "new.ts")}, changed)
}

func TestTracker_ScanCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.ts"), "a")
	tr := newTracker(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Scan(ctx)
	assert.Error(t, err)
}

func TestTracker_RemoveAndRename(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	a := filepath.Join(root, "a.ts")
	b := filepath.Join(root, "b.ts")
	writeFile(t, a, "export const a = 1\n")
	tr := newTracker(t, root)

	_, err := tr.HasChanged(a)
	require.NoError(t, err)
	fp, _ := tr.Lookup(a)

	assert.True(t, tr.Rename(a, b))
	_, ok := tr.Lookup(a)
	assert.False(t, ok)
	moved, ok := tr.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, fp.Hash, moved.Hash)
	assert.Equal(t, b, moved.Path)

	assert.False(t, tr.Rename(a, b), "renaming an untracked path is a no-op")

	tr.Remove(b)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_NoImplicitPrune(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "gone.ts")
	writeFile(t, path, "x")
	tr := newTracker(t, root)

	_, err := tr.HasChanged(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = tr.HasChanged(path)
	assert.Error(t, err)
	_, ok := tr.Lookup(path)
	assert.True(t, ok, "vanished path stays tracked until Remove")
}

func TestTracker_PathsUnder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.ts"), "a")
	writeFile(t, filepath.Join(root, "src", "lib", "b.ts"), "b")
	writeFile(t, filepath.Join(root, "srcx", "c.ts"), "c")
	tr := newTracker(t, root)

	_, err := tr.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "src", "a.ts"),
		filepath.Join(root, "src", "lib", "b.ts"),
	}, tr.PathsUnder(filepath.Join(root, "src")))
	assert.Len(t, tr.Paths(), 3)
}

func TestTracker_BoltStorePersistsAcrossRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "state", "fingerprints.db")
	a := filepath.Join(root, "a.ts")
	b := filepath.Join(root, "b.ts")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	store, err := OpenBoltStore(statePath)
	require.NoError(t, err)
	tr := newTracker(t, root, WithStore(store))
	changed, err := tr.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	tr.Remove(b)
	require.NoError(t, tr.Close())

	store, err = OpenBoltStore(statePath)
	require.NoError(t, err)
	tr = newTracker(t, root, WithStore(store))
	defer tr.Close()

	assert.Equal(t, 1, tr.Len())
	changed, err = tr.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{b}, changed, "only the evicted file is new after restart")
}

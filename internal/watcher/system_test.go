package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/fingerprint"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (h *recordingHandler) record(call, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return h.fail[path]
}

func (h *recordingHandler) Upsert(_ context.Context, path string) error {
	return h.record("upsert "+filepath.Base(path), path)
}

func (h *recordingHandler) Remove(_ context.Context, path string) error {
	return h.record("remove "+filepath.Base(path), path)
}

func (h *recordingHandler) Rename(_ context.Context, from, to string) error {
	return h.record(fmt.Sprintf("rename %s %s", filepath.Base(from), filepath.Base(to)), to)
}

func (h *recordingHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type mapIndex map[string]tracker.Fingerprint

func (m mapIndex) Lookup(path string) (tracker.Fingerprint, bool) {
	fp, ok := m[path]
	return fp, ok
}

func testConfig() Config {
	return Config{
		Debounce:      60 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		RenameWindow:  40 * time.Millisecond,
		ResultBuffer:  16,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startSystem(t *testing.T, root string, h Handler, idx Index) *System {
	t.Helper()
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	s := New(m, h, idx, testConfig(), quietLogger())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestSystem_CoalescesModifications(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "a.ts")
	writeFile(t, path, "export const a = 1\n")

	h := &recordingHandler{}
	s := startSystem(t, root, h, mapIndex{})
	for i := 0; i < 5; i++ {
		s.inject <- Event{Kind: Modify, Path: path}
	}

	require.Eventually(t, func() bool { return len(h.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"upsert a.ts"}, h.Calls())
}

// newStoppedSystem builds a System whose tables can be driven directly
// through handleEvent and sweep without the event loop
func newStoppedSystem(t *testing.T, root string, h Handler, idx Index) *System {
	t.Helper()
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	s := New(m, h, idx, testConfig(), quietLogger())
	s.pending = make(map[string]time.Time)
	s.held = make(map[string]heldRename)
	return s
}

func TestSystem_StablePathsProcessedInOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"c.ts", "a.ts", "b.ts"} {
		writeFile(t, filepath.Join(root, name), name)
	}

	h := &recordingHandler{}
	s := newStoppedSystem(t, root, h, mapIndex{})
	ctx := context.Background()
	now := time.Now()
	for _, name := range []string{"c.ts", "a.ts", "b.ts"} {
		s.handleEvent(ctx, Event{Kind: Create, Path: filepath.Join(root, name)}, now)
	}

	s.sweep(ctx, now.Add(s.config.Debounce-time.Millisecond))
	assert.Empty(t, h.Calls(), "nothing is stable before the debounce window")

	s.sweep(ctx, now.Add(s.config.Debounce))
	assert.Equal(t, []string{"upsert a.ts", "upsert b.ts", "upsert c.ts"}, h.Calls())
	assert.Empty(t, s.pending)
}

func TestSystem_SweepOnlyTakesStablePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"early.ts", "late.ts"} {
		writeFile(t, filepath.Join(root, name), name)
	}

	h := &recordingHandler{}
	s := newStoppedSystem(t, root, h, mapIndex{})
	ctx := context.Background()
	now := time.Now()
	s.handleEvent(ctx, Event{Kind: Modify, Path: filepath.Join(root, "late.ts")}, now.Add(20*time.Millisecond))
	s.handleEvent(ctx, Event{Kind: Modify, Path: filepath.Join(root, "early.ts")}, now)

	s.sweep(ctx, now.Add(s.config.Debounce))
	assert.Equal(t, []string{"upsert early.ts"}, h.Calls())
	assert.Contains(t, s.pending, filepath.Join(root, "late.ts"))
}

func TestSystem_RemoveBypassesDebounce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "a.ts")
	writeFile(t, path, "x")

	h := &recordingHandler{}
	s := startSystem(t, root, h, mapIndex{})
	s.inject <- Event{Kind: Modify, Path: path}
	s.inject <- Event{Kind: Remove, Path: path}

	require.Eventually(t, func() bool { return len(h.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"remove a.ts"}, h.Calls(), "pending modify is dropped by the remove")
}

func TestSystem_RenamePairing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	oldPath := filepath.Join(root, "old.ts")
	newPath := filepath.Join(root, "new.ts")
	writeFile(t, newPath, "export function moved() {}\n")

	hash, err := fingerprint.HashFile(newPath)
	require.NoError(t, err)
	idx := mapIndex{oldPath: {Path: oldPath, Hash: hash}}

	h := &recordingHandler{}
	s := startSystem(t, root, h, idx)
	s.inject <- Event{Kind: RenameFrom, Path: oldPath}
	s.inject <- Event{Kind: Create, Path: newPath}

	require.Eventually(t, func() bool { return len(h.Calls()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"rename old.ts new.ts"}, h.Calls())
}

func TestSystem_UnpairedRenameDegrades(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	oldPath := filepath.Join(root, "old.ts")
	newPath := filepath.Join(root, "other.ts")
	writeFile(t, newPath, "different content")
	idx := mapIndex{oldPath: {Path: oldPath, Hash: "not-the-same"}}

	h := &recordingHandler{}
	s := startSystem(t, root, h, idx)
	s.inject <- Event{Kind: RenameFrom, Path: oldPath}
	s.inject <- Event{Kind: RenameTo, Path: newPath}

	require.Eventually(t, func() bool { return len(h.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"remove old.ts", "upsert other.ts"}, h.Calls())
}

func TestSystem_IgnoresFilteredPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ignored := []string{
		filepath.Join(root, "node_modules", "lib", "index.js"),
		filepath.Join(root, ".cache", "a.ts"),
		filepath.Join(root, "dist", "bundle.js"),
	}
	for _, p := range ignored {
		writeFile(t, p, "x")
	}
	kept := filepath.Join(root, "src", "main.ts")
	writeFile(t, kept, "x")

	h := &recordingHandler{}
	s := startSystem(t, root, h, mapIndex{})
	for _, p := range ignored {
		s.inject <- Event{Kind: Modify, Path: p}
		s.inject <- Event{Kind: Remove, Path: p}
	}
	s.inject <- Event{Kind: Modify, Path: kept}

	require.Eventually(t, func() bool { return len(h.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"upsert main.ts"}, h.Calls())
}

func TestSystem_NewDirectoryEnqueuesFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "pkg")
	writeFile(t, filepath.Join(dir, "one.ts"), "1")
	writeFile(t, filepath.Join(dir, "nested", "two.ts"), "2")
	writeFile(t, filepath.Join(dir, "node_modules", "dep.js"), "3")

	h := &recordingHandler{}
	s := startSystem(t, root, h, mapIndex{})
	s.inject <- Event{Kind: Create, Path: dir}

	require.Eventually(t, func() bool { return len(h.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	// sorted by absolute path: pkg/nested/two.ts < pkg/one.ts
	assert.Equal(t, []string{"upsert two.ts", "upsert one.ts"}, h.Calls())
}

func TestSystem_PublishesFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bad := filepath.Join(root, "bad.ts")
	good := filepath.Join(root, "good.ts")
	writeFile(t, bad, "x")
	writeFile(t, good, "y")

	h := &recordingHandler{fail: map[string]error{bad: fmt.Errorf("boom")}}
	s := startSystem(t, root, h, mapIndex{})
	s.inject <- Event{Kind: Modify, Path: bad}
	s.inject <- Event{Kind: Modify, Path: good}

	var results []Result
	timeout := time.After(2 * time.Second)
	for len(results) < 2 {
		select {
		case r := <-s.Results():
			results = append(results, r)
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %d", len(results))
		}
	}

	assert.Equal(t, bad, results[0].Path)
	assert.Equal(t, OpUpsert, results[0].Op)
	assert.EqualError(t, results[0].Err, "boom")
	assert.Equal(t, good, results[1].Path)
	assert.NoError(t, results[1].Err)
}

func TestSystem_RealFilesystemEvents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := &recordingHandler{}
	startSystem(t, root, h, mapIndex{})

	writeFile(t, filepath.Join(root, "live.ts"), "export const live = true\n")

	require.Eventually(t, func() bool {
		for _, c := range h.Calls() {
			if c == "upsert live.ts" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSystem_Lifecycle(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	s := New(m, &recordingHandler{}, mapIndex{}, testConfig(), quietLogger())

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateWatching, s.State())
	err = s.Start(context.Background())
	require.Error(t, err, "second start fails")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))

	s.Stop()
	s.Stop()
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(context.Background()), "restart after stop")
	s.Stop()
}

func TestSystem_StartFailsForMissingRoot(t *testing.T) {
	t.Parallel()

	m, err := ignore.New(filepath.Join(t.TempDir(), "missing"), ignore.Options{})
	require.NoError(t, err)
	s := New(m, &recordingHandler{}, mapIndex{}, testConfig(), quietLogger())

	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateIdle, s.State())
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   fsnotify.Op
		want EventKind
		ok   bool
	}{
		{fsnotify.Create, Create, true},
		{fsnotify.Write, Modify, true},
		{fsnotify.Remove, Remove, true},
		{fsnotify.Rename, RenameFrom, true},
		{fsnotify.Chmod, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			ev, ok := translate(fsnotify.Event{Name: "/x", Op: tt.op})
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, ev.Kind)
			}
		})
	}
}

func TestSystem_FailureLogLevel(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h := &recordingHandler{fail: map[string]error{
		filepath.Join(root, "broken.ts"): errors.ParseErrorf(fmt.Errorf("no syntax tree"), "failed to parse %s", "broken.ts"),
		filepath.Join(root, "down.ts"):   errors.DatabaseError(fmt.Errorf("connection refused"), "failed to write"),
	}}
	m, err := ignore.New(root, ignore.Options{})
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	s := New(m, h, mapIndex{}, testConfig(), logger)

	tests := []struct {
		file      string
		wantLevel logrus.Level
		wantType  errors.ErrorType
	}{
		{"broken.ts", logrus.WarnLevel, errors.ErrorTypeParse},
		{"down.ts", logrus.ErrorLevel, errors.ErrorTypeDatabase},
	}
	for _, tt := range tests {
		hook.Reset()
		path := filepath.Join(root, tt.file)
		s.dispatch(Result{Path: path, Op: OpUpsert}, func() error {
			return h.Upsert(context.Background(), path)
		})

		entry := hook.LastEntry()
		require.NotNil(t, entry, tt.file)
		assert.Equal(t, tt.wantLevel, entry.Level, tt.file)
		assert.Equal(t, tt.wantType, entry.Data["error_type"], tt.file)

		r := <-s.Results()
		assert.Equal(t, path, r.Path)
		assert.Error(t, r.Err)
	}
}

package graph

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newMemorySync(t *testing.T) (*Synchronizer, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return NewSynchronizer(backend, WithLogger(quietLogger())), backend
}

func helperFile() *models.FileStructure {
	return &models.FileStructure{
		FilePath:  "src/b.ts",
		FileHash:  "hash-b",
		Language:  "typescript",
		LineCount: 3,
		Items: []models.CodeEntity{
			decl(models.KindFunction, "src/b.ts", "helper", 1, true),
		},
	}
}

func TestSynchronizer_ProcessFileStructure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	res, err := sync.ProcessFileStructure(ctx, sampleFile())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Entities)
	assert.Equal(t, 7, res.Links)

	counts, err := sync.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, counts.Nodes, "two directories, file, import stub, three declarations")
	assert.Equal(t, map[string]int{"Directory": 2, "File": 2, "Function": 1, "Class": 1, "Method": 1}, counts.ByLabel)
	assert.Equal(t, map[string]int{"HAS": 5, "USES": 1, "IMPORTS": 1}, counts.ByType)

	assert.True(t, mem.HasEdge("class:src/a.ts#Bar", "method:src/a.ts#Bar.baz", "HAS"))
	assert.True(t, mem.HasEdge("file:src/a.ts", "file:src/b.ts", "IMPORTS"))

	file, ok := mem.Node("file:src/a.ts")
	require.True(t, ok)
	assert.Equal(t, "hash-a", file[models.PropHash])
	assert.Equal(t, "react", file[models.PropExternalImports])

	t.Run("idempotent", func(t *testing.T) {
		_, err := sync.ProcessFileStructure(ctx, sampleFile())
		require.NoError(t, err)
		again, err := sync.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, counts, again)
	})

	t.Run("import target ingested later", func(t *testing.T) {
		_, err := sync.ProcessFileStructure(ctx, helperFile())
		require.NoError(t, err)

		b, ok := mem.Node("file:src/b.ts")
		require.True(t, ok)
		assert.Equal(t, "hash-b", b[models.PropHash], "stub node filled in")
		assert.True(t, mem.HasEdge("file:src/a.ts", "file:src/b.ts", "IMPORTS"))
		assert.True(t, mem.HasEdge("directory:src", "file:src/b.ts", "HAS"))

		after, err := sync.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, after.Nodes)
	})
}

func TestSynchronizer_EditPrunesStaleEntities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	_, err := sync.ProcessFileStructure(ctx, sampleFile())
	require.NoError(t, err)

	edited := &models.FileStructure{
		FilePath:  "src/a.ts",
		FileHash:  "hash-a2",
		Language:  "typescript",
		LineCount: 5,
		Items: []models.CodeEntity{
			decl(models.KindFunction, "src/a.ts", "foo", 1, false),
		},
	}
	_, err = sync.ProcessFileStructure(ctx, edited)
	require.NoError(t, err)

	assert.Equal(t, []string{"function:src/a.ts#foo"}, mem.IDs("Function"))
	assert.Empty(t, mem.IDs("Class"))
	assert.Empty(t, mem.IDs("Method"))
	assert.True(t, mem.HasEdge("file:src/a.ts", "function:src/a.ts#foo", "HAS"))
	assert.False(t, mem.HasEdge("file:src/a.ts", "function:src/a.ts#foo", "USES"), "no longer exported")
	assert.False(t, mem.HasEdge("file:src/a.ts", "file:src/b.ts", "IMPORTS"))

	file, _ := mem.Node("file:src/a.ts")
	assert.Equal(t, "hash-a2", file[models.PropHash])
	assert.Equal(t, "", file[models.PropExternalImports])
}

func TestSynchronizer_RemoveFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	_, err := sync.ProcessFileStructure(ctx, sampleFile())
	require.NoError(t, err)
	_, err = sync.ProcessFileStructure(ctx, helperFile())
	require.NoError(t, err)

	deleted, err := sync.RemoveFile(ctx, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, 4, deleted, "file, foo, Bar and Bar.baz")

	exists, err := sync.FileExists(ctx, "src/a.ts")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, mem.IDs("Class"))
	assert.Empty(t, mem.IDs("Method"))
	assert.Equal(t, []string{"function:src/b.ts#helper"}, mem.IDs("Function"), "other files untouched")
	assert.Equal(t, []string{"directory:.", "directory:src"}, mem.IDs("Directory"))

	counts, err := sync.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Nodes)
	assert.Equal(t, 4, counts.Relationships)

	t.Run("missing path is a no-op", func(t *testing.T) {
		deleted, err := sync.RemoveFile(ctx, "src/a.ts")
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestSynchronizer_UpdateFilePath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	_, err := sync.ProcessFileStructure(ctx, sampleFile())
	require.NoError(t, err)
	_, err = sync.ProcessFileStructure(ctx, helperFile())
	require.NoError(t, err)
	before, err := sync.Counts(ctx)
	require.NoError(t, err)

	renamed, err := sync.UpdateFilePath(ctx, "src/b.ts", "lib/util/b.ts")
	require.NoError(t, err)
	require.True(t, renamed)

	exists, _ := sync.FileExists(ctx, "src/b.ts")
	assert.False(t, exists)
	exists, _ = sync.FileExists(ctx, "lib/util/b.ts")
	assert.True(t, exists)

	file, ok := mem.Node("file:lib/util/b.ts")
	require.True(t, ok)
	assert.Equal(t, "file:lib/util/b.ts", file["id"])
	assert.Equal(t, "b.ts", file[models.PropName])
	assert.Equal(t, "hash-b", file[models.PropHash])

	helper, ok := mem.Node("function:lib/util/b.ts#helper")
	require.True(t, ok, "declaration re-keyed")
	assert.Equal(t, "lib/util/b.ts", helper["path"])
	_, ok = mem.Node("function:src/b.ts#helper")
	assert.False(t, ok)

	assert.True(t, mem.HasEdge("file:src/a.ts", "file:lib/util/b.ts", "IMPORTS"), "inbound imports survive")
	assert.True(t, mem.HasEdge("file:lib/util/b.ts", "function:lib/util/b.ts#helper", "HAS"))
	assert.True(t, mem.HasEdge("file:lib/util/b.ts", "function:lib/util/b.ts#helper", "USES"))
	assert.True(t, mem.HasEdge("directory:lib/util", "file:lib/util/b.ts", "HAS"))
	assert.True(t, mem.HasEdge("directory:.", "directory:lib", "HAS"))
	assert.False(t, mem.HasEdge("directory:src", "file:lib/util/b.ts", "HAS"), "old containment dropped")

	after, err := sync.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ByLabel["File"], after.ByLabel["File"])
	assert.Equal(t, before.ByLabel["Function"], after.ByLabel["Function"])

	t.Run("unknown source", func(t *testing.T) {
		renamed, err := sync.UpdateFilePath(ctx, "nope.ts", "other.ts")
		require.NoError(t, err)
		assert.False(t, renamed)
	})

	t.Run("replaces node at destination", func(t *testing.T) {
		renamed, err := sync.UpdateFilePath(ctx, "lib/util/b.ts", "src/a.ts")
		require.NoError(t, err)
		require.True(t, renamed)
		assert.Empty(t, mem.IDs("Class"), "previous occupant's declarations removed")
		file, _ := mem.Node("file:src/a.ts")
		assert.Equal(t, "hash-b", file[models.PropHash])
	})
}

func TestSynchronizer_RegisterProject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	require.NoError(t, sync.RegisterProject(ctx, "web", "/work/web"))
	require.NoError(t, sync.RegisterProject(ctx, "web", "/work/web"))

	project, ok := mem.Node("project:web")
	require.True(t, ok)
	assert.Equal(t, "/work/web", project[models.PropRoot])
	assert.True(t, mem.HasEdge("project:web", "directory:.", "OWNS"))

	counts, err := sync.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Nodes)
	assert.Equal(t, 1, counts.Relationships)
}

func TestSynchronizer_EnsureDirectories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sync, mem := newMemorySync(t)

	require.NoError(t, sync.EnsureDirectories(ctx, []string{"src/a", "src/b", "docs"}))
	assert.Equal(t, []string{"directory:.", "directory:docs", "directory:src", "directory:src/a", "directory:src/b"}, mem.IDs("Directory"))
	assert.True(t, mem.HasEdge("directory:src", "directory:src/b", "HAS"))

	counts, err := sync.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Relationships)
}

// temporaryError is retried by IsTransient
type temporaryError struct{}

func (temporaryError) Error() string   { return "connection reset" }
func (temporaryError) Temporary() bool { return true }

type flakyBackend struct {
	*MemoryBackend
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyBackend) CreateNodes(ctx context.Context, nodes []GraphNode) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return f.MemoryBackend.CreateNodes(ctx, nodes)
}

type blockingBackend struct {
	*MemoryBackend
}

func (blockingBackend) FileExists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestSynchronizer_Retry(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	dir := []models.CodeEntity{DirectoryEntity(".")}

	t.Run("transient failures are retried", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 2, err: temporaryError{}}
		sync := NewSynchronizer(backend, WithRetryPolicy(policy), WithLogger(quietLogger()))

		require.NoError(t, sync.BatchIngestEntities(context.Background(), dir))
		assert.Equal(t, int32(3), backend.calls.Load())
	})

	t.Run("retries are bounded", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 10, err: temporaryError{}}
		sync := NewSynchronizer(backend, WithRetryPolicy(policy), WithLogger(quietLogger()))

		err := sync.BatchIngestEntities(context.Background(), dir)
		require.Error(t, err)
		assert.Equal(t, int32(4), backend.calls.Load())
		assert.Equal(t, errors.ErrorTypeDatabase, errors.GetType(err))

		var e *errors.Error
		require.True(t, stderrors.As(err, &e))
		assert.Equal(t, OpBatchWrite, e.Context["operation"])
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 1, err: stderrors.New("syntax error")}
		sync := NewSynchronizer(backend, WithRetryPolicy(policy), WithLogger(quietLogger()))

		err := sync.BatchIngestEntities(context.Background(), dir)
		require.Error(t, err)
		assert.Equal(t, int32(1), backend.calls.Load())
		assert.False(t, errors.IsFatal(err), "per-operation failures do not stop the process")
	})
}

type unreachableBackend struct {
	*MemoryBackend
}

func (unreachableBackend) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSynchronizer_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		sync, _ := newMemorySync(t)
		assert.NoError(t, sync.HealthCheck(context.Background()))
	})

	t.Run("unreachable backend times out", func(t *testing.T) {
		sync := NewSynchronizer(unreachableBackend{NewMemoryBackend()},
			WithTimeouts(Timeouts{OpHealthCheck: 20 * time.Millisecond}),
			WithLogger(quietLogger()))

		start := time.Now()
		err := sync.HealthCheck(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDatabase))
		assert.True(t, errors.IsFatal(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestSynchronizer_OperationTimeout(t *testing.T) {
	t.Parallel()

	sync := NewSynchronizer(blockingBackend{NewMemoryBackend()},
		WithTimeouts(Timeouts{OpRead: 20 * time.Millisecond}),
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}),
		WithLogger(quietLogger()))

	start := time.Now()
	_, err := sync.FileExists(context.Background(), "a.ts")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSynchronizer_WriteRateLimit(t *testing.T) {
	t.Parallel()

	sync := NewSynchronizer(NewMemoryBackend(), WithWriteRate(20), WithLogger(quietLogger()))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 25; i++ {
		require.NoError(t, sync.IngestEntity(ctx, DirectoryEntity(".")))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "burst of 20 then 20/s")
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(stderrors.New("boom")))
	assert.True(t, IsTransient(temporaryError{}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(5))
}

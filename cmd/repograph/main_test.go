package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/rohankatakam/repograph/internal/config"
	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/ingestion"
	"github.com/stretchr/testify/assert"
)

func TestDescribeStats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stats ingestion.FileStats
		want  string
	}{
		{"empty", ingestion.FileStats{}, "none"},
		{"typescript only", ingestion.FileStats{Total: 2, TypeScript: 2}, "TypeScript (2 files)"},
		{"mixed", ingestion.FileStats{Total: 6, TypeScript: 1, JavaScript: 2, Python: 3},
			"TypeScript (1 files), JavaScript (2 files), Python (3 files)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeStats(tt.stats))
		})
	}
}

func TestRootArg(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", rootArg(nil))
	assert.Equal(t, "web", rootArg([]string{"web"}))
}

func TestConfigMapping(t *testing.T) {
	t.Parallel()

	c := config.Default()
	c.Watch.IgnorePatterns = []string{"*.snap"}
	c.Watch.IncludeHidden = true
	c.Watch.Debounce = 50 * time.Millisecond

	opts := ignoreOptions(c)
	assert.Equal(t, []string{"*.snap"}, opts.Patterns)
	assert.True(t, opts.UseGitignore)
	assert.True(t, opts.IncludeHidden)

	wc := watcherConfig(c)
	assert.Equal(t, 50*time.Millisecond, wc.Debounce)
	assert.Equal(t, c.Watch.RenameWindow, wc.RenameWindow)
	assert.Equal(t, c.Watch.SweepInterval, wc.SweepInterval)
}

func TestSortedKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"File", "Function", "HAS"}, sortedKeys(map[string]int{"HAS": 3, "Function": 1, "File": 2}))
	assert.Empty(t, sortedKeys(nil))
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	structured := errors.DatabaseError(fmt.Errorf("connection refused"), "graph backend health check failed").
		WithContext("operation", "health_check")
	plain := fmt.Errorf("missing argument")

	tests := []struct {
		name     string
		err      error
		detailed bool
		contains []string
		excludes []string
	}{
		{"plain", plain, false, []string{"Error: missing argument\n"}, nil},
		{"plain verbose", plain, true, []string{"Error: missing argument\n"}, []string{"Stack trace"}},
		{"structured", structured, false,
			[]string{"Error: graph backend health check failed: connection refused\n"}, []string{"Context:"}},
		{"structured verbose", fmt.Errorf("status: %w", structured), true,
			[]string{"[CRITICAL] [DATABASE] graph backend health check failed", "operation: health_check", "Stack trace:"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := formatError(tt.err, tt.detailed)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

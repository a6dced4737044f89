package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rohankatakam/repograph/internal/config"
	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/ignore"
	"github.com/rohankatakam/repograph/internal/ingestion"
	"github.com/rohankatakam/repograph/internal/tracker"
	"github.com/rohankatakam/repograph/internal/treesitter"
	"github.com/rohankatakam/repograph/internal/watcher"
)

// components are the long-lived pieces a command wires together
type components struct {
	root     string
	registry *treesitter.Registry
	parser   *treesitter.Parser
	tracker  *tracker.Tracker
	sync     *graph.Synchronizer
	files    ingestion.FileStats
}

// openComponents builds the parser, tracker and synchronizer for root.
// With dryRun the graph lives in memory and Neo4j is never contacted.
func openComponents(ctx context.Context, root string, dryRun bool) (*components, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	c := &components{root: abs}
	c.registry, err = treesitter.NewRegistry()
	if err != nil {
		return nil, err
	}
	c.parser = treesitter.NewParser(c.registry)

	c.tracker, err = openTracker(abs)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	// Batch sizes scale with the repository
	files, err := ingestion.WalkSourceFiles(ctx, c.tracker.Matcher())
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.files = ingestion.CountFiles(files)

	backend, err := openBackend(ctx, c.files.Total, dryRun)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.sync = graph.NewSynchronizer(backend, synchronizerOptions(cfg)...)
	return c, nil
}

// Close releases everything openComponents acquired
func (c *components) Close(ctx context.Context) {
	if c.sync != nil {
		if err := c.sync.Close(ctx); err != nil {
			logger.WithError(err).Warn("Failed to close graph backend")
		}
	}
	if c.tracker != nil {
		if err := c.tracker.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close fingerprint store")
		}
	}
	if c.registry != nil {
		c.registry.Close()
	}
}

func ignoreOptions(c *config.Config) ignore.Options {
	return ignore.Options{
		Patterns:      c.Watch.IgnorePatterns,
		UseGitignore:  c.Watch.UseGitignore,
		IncludeHidden: c.Watch.IncludeHidden,
	}
}

func watcherConfig(c *config.Config) watcher.Config {
	return watcher.Config{
		Debounce:      c.Watch.Debounce,
		SweepInterval: c.Watch.SweepInterval,
		RenameWindow:  c.Watch.RenameWindow,
	}
}

func synchronizerOptions(c *config.Config) []graph.Option {
	retry := graph.DefaultRetryPolicy()
	retry.MaxRetries = c.Graph.MaxRetries
	if c.Graph.RetryBackoff > 0 {
		retry.Backoff = c.Graph.RetryBackoff
	}
	return []graph.Option{
		graph.WithRetryPolicy(retry),
		graph.WithTimeouts(graph.Timeouts(c.Graph.Timeouts)),
		graph.WithWriteRate(c.Graph.WritesPerSecond),
		graph.WithLogger(logger.Logger),
	}
}

func openTracker(root string) (*tracker.Tracker, error) {
	matcher, err := ignore.New(root, ignoreOptions(cfg))
	if err != nil {
		return nil, err
	}

	opts := []tracker.Option{tracker.WithLogger(logger.Logger)}
	if cfg.Tracker.StatePath != "" {
		store, err := tracker.OpenBoltStore(cfg.Tracker.StatePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tracker.WithStore(store))
	}
	return tracker.New(matcher, opts...)
}

func openBackend(ctx context.Context, fileCount int, dryRun bool) (graph.Backend, error) {
	if dryRun {
		return graph.NewMemoryBackend(), nil
	}
	if err := cfg.RequireNeo4j(); err != nil {
		return nil, err
	}

	batch := graph.BatchConfigForFileCount(fileCount)
	if cfg.Graph.BatchSize > 0 {
		batch = batch.WithSize(cfg.Graph.BatchSize)
	}
	return graph.NewNeo4jBackend(ctx, graph.Neo4jConfig{
		URI:         cfg.Neo4j.URI,
		User:        cfg.Neo4j.User,
		Password:    cfg.Neo4j.Password,
		Database:    cfg.Neo4j.Database,
		MaxPoolSize: cfg.Neo4j.MaxPoolSize,
		Batch:       batch,
		Timeouts:    graph.Timeouts(cfg.Graph.Timeouts),
	}, logger.Logger)
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/rohankatakam/repograph/internal/ingestion"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep the graph in sync with file changes",
	Long: `Watch a repository and apply every create, edit, delete and rename to the
graph as it happens. Bursts of writes to one file are coalesced and renames
are detected by content, so a moved file keeps its graph identity.

Examples:
  repograph watch                     # Index once, then watch the current directory
  repograph watch ./web --no-index    # Watch without the initial index`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("no-index", false, "Skip the initial index pass")
	watchCmd.Flags().Bool("dry-run", false, "Write to an in-memory graph instead of Neo4j")
	watchCmd.Flags().Bool("no-progress", false, "Disable the progress bar for the initial index")
	watchCmd.Flags().Int("workers", 0, "Parallel parsers for the initial index (default: index.workers)")
	watchCmd.Flags().Bool("incremental", false, "Make the initial index incremental")
	watchCmd.Flags().String("project", "", "Project node name (default: directory name)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	c, err := openComponents(ctx, rootArg(args), dryRun)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	if err := c.sync.EnsureSchema(ctx); err != nil {
		return err
	}

	if noIndex, _ := cmd.Flags().GetBool("no-index"); !noIndex {
		fmt.Printf("Found %d source files: %s\n", c.files.Total, describeStats(c.files))
		result, err := indexRepository(ctx, cmd, c)
		if err != nil {
			return err
		}
		printResult(result)
	}

	pipeline := ingestion.NewPipeline(c.parser, c.sync, c.tracker, logger.Logger,
		ingestion.WithMaxFileSize(cfg.Index.MaxFileSize))
	live := ingestion.NewLiveSync(pipeline, c.tracker, watcherConfig(cfg), logger.Logger)
	if err := live.StartWatching(ctx, c.root); err != nil {
		return err
	}
	defer live.StopWatching()

	fmt.Printf("\nWatching %s (Ctrl+C to stop)\n", c.root)

	results := live.Results()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping watcher...")
			return nil
		case r, ok := <-results:
			if !ok {
				return nil
			}
			entry := logger.WithFields(logrus.Fields{"op": r.Op, "path": r.Path})
			if r.OldPath != "" {
				entry = entry.WithField("from", r.OldPath)
			}
			if r.Err != nil {
				if errors.IsType(r.Err, errors.ErrorTypeParse) {
					entry.WithError(r.Err).Warn("Skipped unparsable file")
				} else {
					entry.WithError(r.Err).Error("Graph update failed")
				}
				continue
			}
			entry.Info("Graph updated")
		}
	}
}

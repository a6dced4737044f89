package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/ingestion"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Parse a repository and write it to the graph",
	Long: `Walk a repository, parse every supported source file with Tree-sitter and
merge directories, files, declarations and imports into Neo4j.

Examples:
  repograph index                      # Index the current directory
  repograph index ./web --workers 16   # Use 16 parallel parsers
  repograph index --incremental        # Only files changed since the last run
  repograph index --dry-run            # Parse only, report what would be written`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().Int("workers", 0, "Parallel parsers (default: index.workers)")
	indexCmd.Flags().Bool("incremental", false, "Skip files whose fingerprint is unchanged and remove vanished files")
	indexCmd.Flags().Bool("dry-run", false, "Write to an in-memory graph instead of Neo4j")
	indexCmd.Flags().String("project", "", "Project node name (default: directory name)")
	indexCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	c, err := openComponents(ctx, rootArg(args), dryRun)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	fmt.Printf("Found %d source files: %s\n", c.files.Total, describeStats(c.files))

	if err := c.sync.EnsureSchema(ctx); err != nil {
		return err
	}

	result, err := indexRepository(ctx, cmd, c)
	if err != nil {
		return err
	}
	printResult(result)

	if dryRun {
		counts, err := c.sync.Counts(ctx)
		if err != nil {
			return err
		}
		printCounts(os.Stdout, counts)
	}
	if result.FilesFailed > 0 {
		return fmt.Errorf("%d of %d files failed to index", result.FilesFailed, result.FilesTotal)
	}
	return nil
}

// indexRepository runs one full or incremental pass with a progress bar
func indexRepository(ctx context.Context, cmd *cobra.Command, c *components) (*ingestion.Result, error) {
	procCfg := ingestion.DefaultProcessorConfig()
	procCfg.Workers = cfg.Index.Workers
	procCfg.Incremental = cfg.Index.Incremental
	procCfg.ProjectName = cfg.Index.ProjectName
	procCfg.MaxFileSize = cfg.Index.MaxFileSize
	procCfg.Ignore = ignoreOptions(cfg)

	if cmd.Flags().Changed("workers") {
		procCfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("incremental") {
		procCfg.Incremental, _ = cmd.Flags().GetBool("incremental")
	}
	if cmd.Flags().Changed("project") {
		procCfg.ProjectName, _ = cmd.Flags().GetString("project")
	}

	processor := ingestion.NewProcessor(procCfg, c.parser, c.sync, c.tracker, logger.Logger)

	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if !noProgress && c.files.Total > 0 {
		bar := progressbar.NewOptions(c.files.Total,
			progressbar.OptionSetDescription("Indexing files"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files/s"),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
		processor.OnProgress(func(done, total int) {
			if bar.GetMax() != total {
				bar.ChangeMax(total)
			}
			bar.Set(done)
		})
	}

	return processor.ParseAndIngestDirectory(ctx, c.root)
}

func describeStats(stats ingestion.FileStats) string {
	var languages []string
	if stats.TypeScript > 0 {
		languages = append(languages, fmt.Sprintf("TypeScript (%d files)", stats.TypeScript))
	}
	if stats.JavaScript > 0 {
		languages = append(languages, fmt.Sprintf("JavaScript (%d files)", stats.JavaScript))
	}
	if stats.Python > 0 {
		languages = append(languages, fmt.Sprintf("Python (%d files)", stats.Python))
	}
	if len(languages) == 0 {
		return "none"
	}
	return strings.Join(languages, ", ")
}

func printResult(r *ingestion.Result) {
	fmt.Printf("\nIndexed %s in %v\n", r.Root, r.Duration.Round(time.Millisecond))
	fmt.Printf("   Files:    %d processed, %d unchanged or skipped, %d removed, %d failed\n",
		r.FilesProcessed, r.FilesSkipped, r.FilesRemoved, r.FilesFailed)
	fmt.Printf("   Entities: %d\n", r.Entities)
	fmt.Printf("   Links:    %d\n", r.Links)
	for _, err := range r.Errors {
		fmt.Printf("   ! %v\n", err)
	}
}

func printCounts(w io.Writer, c graph.Counts) {
	fmt.Fprintf(w, "\nGraph: %d nodes, %d relationships\n", c.Nodes, c.Relationships)
	for _, label := range sortedKeys(c.ByLabel) {
		fmt.Fprintf(w, "   %-10s %d\n", label, c.ByLabel[label])
	}
	for _, rel := range sortedKeys(c.ByType) {
		fmt.Fprintf(w, "   %-10s %d\n", rel, c.ByType[rel])
	}
}

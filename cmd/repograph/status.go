package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/rohankatakam/repograph/internal/treesitter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Check Neo4j and show graph totals",
	Long: `Verify the graph backend is reachable, then report graph totals, the
supported languages and the fingerprints persisted for a repository.

Examples:
  repograph status            # Totals for the current directory
  repograph status --files    # Also list every tracked file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("files", false, "List tracked files")
}

// statusReport is everything status prints
type statusReport struct {
	URI       string
	Database  string
	Root      string
	Languages []treesitter.Language
	Persisted bool
	Tracked   []string // absolute paths
	ListFiles bool
	Counts    graph.Counts
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	root, err := filepath.Abs(rootArg(args))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", rootArg(args), err)
	}
	listFiles, _ := cmd.Flags().GetBool("files")

	registry, err := treesitter.NewRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()

	tr, err := openTracker(root)
	if err != nil {
		return err
	}
	defer tr.Close()

	backend, err := openBackend(ctx, 0, false)
	if err != nil {
		return err
	}
	sync := graph.NewSynchronizer(backend, synchronizerOptions(cfg)...)
	defer sync.Close(context.WithoutCancel(ctx))

	if err := sync.HealthCheck(ctx); err != nil {
		return err
	}
	counts, err := sync.Counts(ctx)
	if err != nil {
		return err
	}

	writeStatus(os.Stdout, statusReport{
		URI:       cfg.Neo4j.URI,
		Database:  cfg.Neo4j.Database,
		Root:      root,
		Languages: registry.Languages(),
		Persisted: cfg.Tracker.StatePath != "",
		Tracked:   tr.Paths(),
		ListFiles: listFiles,
		Counts:    counts,
	})
	return nil
}

func writeStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "Neo4j: %s (database %s) reachable\n", r.URI, r.Database)

	langs := make([]string, len(r.Languages))
	for i, l := range r.Languages {
		langs[i] = string(l)
	}
	fmt.Fprintf(w, "Languages: %s\n", strings.Join(langs, ", "))

	if !r.Persisted {
		fmt.Fprintln(w, "Fingerprints: not persisted (tracker.state_path unset)")
	} else {
		fmt.Fprintf(w, "Fingerprints: %d tracked files under %s\n", len(r.Tracked), r.Root)
		if r.ListFiles {
			for _, path := range r.Tracked {
				rel, err := filepath.Rel(r.Root, path)
				if err != nil {
					rel = path
				}
				fmt.Fprintf(w, "   %s\n", filepath.ToSlash(rel))
			}
		}
	}

	printCounts(w, r.Counts)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

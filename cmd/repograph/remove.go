package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rohankatakam/repograph/internal/ingestion"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <path>...",
	Short: "Remove files or directories from the graph",
	Long: `Delete the File nodes at the given paths together with every declaration
they contain. A directory removes every tracked file beneath it.

Examples:
  repograph remove src/legacy.ts
  repograph remove --root ./web src/old`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().String("root", ".", "Repository root")
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	root, _ := cmd.Flags().GetString("root")

	c, err := openComponents(ctx, root, false)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	pipeline := ingestion.NewPipeline(c.parser, c.sync, c.tracker, logger.Logger)
	for _, arg := range args {
		path := arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.root, path)
		}
		if err := pipeline.Remove(ctx, path); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", arg)
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/repograph/internal/graph"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create graph constraints and indexes",
	Long: `Create the uniqueness constraints and lookup indexes the graph relies on.
Every statement is idempotent, so running this repeatedly is safe.`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().Bool("print", false, "Print the statements without connecting")
}

func runSchema(cmd *cobra.Command, args []string) error {
	if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
		for _, stmt := range graph.SchemaStatements() {
			fmt.Println(stmt + ";")
		}
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := openBackend(ctx, 0, false)
	if err != nil {
		return err
	}
	sync := graph.NewSynchronizer(backend, synchronizerOptions(cfg)...)
	defer sync.Close(context.WithoutCancel(ctx))

	if err := sync.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Printf("Schema ready (%d statements)\n", len(graph.SchemaStatements()))
	return nil
}

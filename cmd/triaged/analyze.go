package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchChanges bool

func init() {
	analyzeCmd.Flags().BoolVar(&watchChanges, "watch", false, "keep running and re-analyze on file changes")
}

// analyzeCmd indexes a source tree into the knowledge store.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze a source tree and store embedded chunks",
	Long: `Analyze walks a source tree, splits analyzable files into chunks,
embeds them, and upserts them into the knowledge store. Re-running over
the same tree replaces chunks in place.

Examples:
  # Analyze the current directory
  triaged analyze

  # Analyze a specific tree
  triaged analyze ./services/api

  # Re-analyze whenever files change
  triaged analyze --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

// structureCmd prints the tree the analyzer would ingest.
var structureCmd = &cobra.Command{
	Use:   "structure [path]",
	Short: "Print the analyzable structure of a source tree",
	Long: `Structure walks a source tree read-only and prints what analysis
would cover: directories, analyzable files with detected language, and
files skipped for size or unknown extension. Nothing is embedded or
stored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStructure,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	root := ""
	if len(args) > 0 {
		root = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := app.analyzer.AnalyzeAndStore(ctx, root)
	if err != nil {
		return err
	}

	if err := printJSON(summary); err != nil {
		return err
	}

	if watchChanges {
		if err := app.analyzer.Watch(ctx, root); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func runStructure(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	root := ""
	if len(args) > 0 {
		root = args[0]
	}

	tree, err := app.analyzer.Structure(cmd.Context(), root)
	if err != nil {
		return err
	}
	return printJSON(tree)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

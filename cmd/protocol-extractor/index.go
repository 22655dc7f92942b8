// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index [records...]",
	Short: "Ingest extraction records into the vector index",
	Long: `Index embeds one chunk per non-empty field of each record and stores it in
the vector index (SQLite, or PostgreSQL with vector.store: postgres) with the
study metadata. Unchanged chunks are skipped; changed chunks are replaced.
With no arguments every record in the records directory is indexed.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Vector.Workers, _ = cmd.Flags().GetInt("workers")
	}
	applyIndexDir(cmd, &cfg.Vector)

	paths := args
	if len(paths) == 0 {
		dir, _ := cmd.Flags().GetString("records-dir")
		if dir == "" {
			dir = cfg.Extraction.RecordsDir
		}
		if paths, err = records.List(dir); err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no records found in %s", dir)
		}
	}
	recs, err := records.LoadAll(paths)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine, closeFn, err := openEngine(ctx, cfg.Vector)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := engine.IngestAll(ctx, recs, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d record(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- similar ---

var similarCmd = &cobra.Command{
	Use:   "similar <query>",
	Short: "Find indexed field chunks similar to a query",
	Long: `Similar embeds the query and ranks indexed chunks by cosine similarity,
after filtering on study metadata. Results below the similarity threshold are
dropped; ties are broken by metadata completeness, then id.

Filters:
  --eq phase="Phase III"          exact match
  --in phase="Phase II,Phase III"  set membership
  --range enrollment_count=100:500 numeric range (either bound may be empty)
  --field adverse_events_profile   restrict to fields`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimilar,
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("threshold") {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		cfg.Vector.SimilarityThreshold = &threshold
	}
	applyIndexDir(cmd, &cfg.Vector)

	eq, _ := cmd.Flags().GetStringArray("eq")
	in, _ := cmd.Flags().GetStringArray("in")
	ranges, _ := cmd.Flags().GetStringArray("range")
	fields, _ := cmd.Flags().GetStringSlice("field")
	filter, err := parseFilter(eq, in, ranges, fields)
	if err != nil {
		return err
	}
	topK, _ := cmd.Flags().GetInt("top-k")

	ctx := context.Background()
	engine, closeFn, err := openEngine(ctx, cfg.Vector)
	if err != nil {
		return err
	}
	defer closeFn()

	results, err := engine.Search(ctx, strings.Join(args, " "), filter, topK)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatSimilarOutput(results, jsonOutput)
}

func formatSimilarOutput(results []types.SearchResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-6s  %-20s  %-28s  %-40s  %s\n",
		"Rank", "Sim", "Document", "Field", "Content", "Pages")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 116))

	for i, r := range results {
		content := strings.Join(strings.Fields(r.Record.Text), " ")
		if len(content) > 40 {
			content = content[:37] + "..."
		}
		doc := r.Record.DocumentID
		if len(doc) > 20 {
			doc = doc[:17] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-4d  %-6.3f  %-20s  %-28s  %-40s  %v\n",
			i+1, r.Similarity, doc, r.Record.Field, content, r.Record.PageReferences)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

func applyIndexDir(cmd *cobra.Command, cfg *types.VectorConfig) {
	if cmd.Flags().Changed("index-dir") {
		cfg.IndexDir, _ = cmd.Flags().GetString("index-dir")
	}
}

func init() {
	indexCmd.Flags().Int("workers", 0, "concurrent documents to ingest (default 4)")
	indexCmd.Flags().String("records-dir", "", "directory of records to index when no arguments are given")
	indexCmd.Flags().String("index-dir", "", "vector index directory (default index)")

	similarCmd.Flags().StringArray("eq", nil, "metadata key=value exact match (repeatable)")
	similarCmd.Flags().StringArray("in", nil, "metadata key=v1,v2 set membership (repeatable)")
	similarCmd.Flags().StringArray("range", nil, "metadata key=min:max numeric range (repeatable)")
	similarCmd.Flags().StringSlice("field", nil, "restrict results to field ids")
	similarCmd.Flags().Int("top-k", 0, "maximum number of results (default 10)")
	similarCmd.Flags().Float64("threshold", 0, "minimum cosine similarity (default 0.3)")
	similarCmd.Flags().Bool("json", false, "output results as JSON")
	similarCmd.Flags().String("index-dir", "", "vector index directory (default index)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(similarCmd)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

var qualityCmd = &cobra.Command{
	Use:   "quality <records...>",
	Short: "Score extraction records",
	Long: `Quality prints the confidence, completeness, missing fields, and routing
decision for each record, with a per-field confidence breakdown.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuality,
}

// qualityEntry pairs a document with its report for JSON output.
type qualityEntry struct {
	DocumentID string              `json:"document_id"`
	Report     types.QualityReport `json:"report"`
}

func runQuality(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	recs, err := records.LoadAll(args)
	if err != nil {
		return err
	}

	scorer := quality.New(cfg.Quality)
	entries := make([]qualityEntry, len(recs))
	for i, rec := range recs {
		entries[i] = qualityEntry{DocumentID: rec.DocumentID, Report: scorer.Score(rec)}
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		r := e.Report
		fmt.Fprintf(os.Stdout, "%s\n", e.DocumentID)
		fmt.Fprintf(os.Stdout, "  confidence    %.2f\n", r.Confidence)
		fmt.Fprintf(os.Stdout, "  completeness  %.2f\n", r.Completeness)
		fmt.Fprintf(os.Stdout, "  model needed  %t\n", r.NeedsModelExtraction)
		for _, f := range types.AllFields() {
			mark := " "
			for _, m := range r.Missing {
				if m == f {
					mark = "-"
				}
			}
			fmt.Fprintf(os.Stdout, "  %s %-30s %.2f\n", mark, f, r.FieldConfidence[f])
		}
		if len(r.Missing) > 0 {
			missing := make([]string, len(r.Missing))
			for i, f := range r.Missing {
				missing[i] = string(f)
			}
			fmt.Fprintf(os.Stdout, "  missing: %s\n", strings.Join(missing, ", "))
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}

func init() {
	qualityCmd.Flags().Bool("json", false, "output reports as JSON")

	rootCmd.AddCommand(qualityCmd)
}

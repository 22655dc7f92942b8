// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/document"
	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

var refineCmd = &cobra.Command{
	Use:   "refine <record>",
	Short: "Re-extract one field of a record with reviewer feedback",
	Long: `Refine re-runs model extraction for a single field of an existing record,
appending the feedback to the field's instruction together with the previous
answer. Only that field is replaced; when extraction fails the record is left
unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefine,
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyExtractionFlags(cmd, &cfg.Extraction)

	source, _ := cmd.Flags().GetString("source")
	fieldName, _ := cmd.Flags().GetString("field")
	feedback, _ := cmd.Flags().GetString("feedback")

	field, err := types.ParseFieldID(fieldName)
	if err != nil {
		return err
	}

	rec, err := records.Load(args[0])
	if err != nil {
		return err
	}
	doc, err := document.NewLoader(logger).Load(source)
	if err != nil {
		return err
	}
	doc.ID = rec.DocumentID

	orch, err := newOrchestrator(cfg.Extraction, printProgress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := orch.Refine(ctx, doc, rec, field, feedback)
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("records-dir")
	if dir == "" {
		dir = cfg.Extraction.RecordsDir
	}
	written, err := records.Save(dir, rec)
	if err != nil {
		return err
	}

	report := quality.New(cfg.Quality).Score(rec)
	fmt.Fprintf(os.Stdout, "refined %s/%s (%d attempt(s), pages %v)\n", rec.DocumentID, field, res.Attempts, res.PageReferences)
	fmt.Fprintf(os.Stdout, "  confidence %.2f, completeness %.2f\n", report.Confidence, report.Completeness)
	fmt.Fprintf(os.Stdout, "  wrote %s\n", written)
	return nil
}

func init() {
	refineCmd.Flags().String("source", "", "source document the record was extracted from")
	refineCmd.Flags().String("field", "", "field id to re-extract")
	refineCmd.Flags().String("feedback", "", "reviewer feedback appended to the instruction")
	refineCmd.Flags().String("backend", "", "completion backend: claude or ollama")
	refineCmd.Flags().String("model", "", "AI model identifier for extraction")
	refineCmd.Flags().String("records-dir", "", "directory for the updated record (default records)")
	_ = refineCmd.MarkFlagRequired("source")
	_ = refineCmd.MarkFlagRequired("field")
	_ = refineCmd.MarkFlagRequired("feedback")

	rootCmd.AddCommand(refineCmd)
}

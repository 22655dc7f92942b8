// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/document"
	"github.com/pdiddy/protocol-extractor/internal/extract"
	"github.com/pdiddy/protocol-extractor/internal/pipeline"
	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/internal/selector"
	"github.com/pdiddy/protocol-extractor/internal/structural"
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Extract nine-field records from protocol documents",
	Long: `Extract loads each protocol (PDF, or text with "--- Page N ---" markers),
runs the structural parse, scores it, and escalates to model extraction when
confidence or completeness is below threshold. Records are written to
records/<document>.yaml.

Use --analyze to print chunk selection statistics without calling a model.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyExtractionFlags(cmd, &cfg.Extraction)

	meta, err := parsePairs(stringArray(cmd, "meta"))
	if err != nil {
		return err
	}
	analyze, _ := cmd.Flags().GetBool("analyze")
	forceModel, _ := cmd.Flags().GetBool("force-model")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := document.NewLoader(logger)
	if analyze {
		sel := selector.New(cfg.Extraction.CharsPerToken)
		for _, path := range args {
			doc, err := loader.Load(path)
			if err != nil {
				return err
			}
			printAnalysis(doc.ID, sel.Analyze(doc, cfg.Extraction.FieldSpecs()))
		}
		return nil
	}

	var extractor pipeline.Extractor
	orch, err := newOrchestrator(cfg.Extraction, printProgress)
	switch {
	case err == nil:
		extractor = orch
	case forceModel:
		return err
	default:
		logger.Warn("model extraction unavailable; records will hold the structural parse only", slog.Any("error", err))
	}

	p := pipeline.New(
		structural.New(cfg.Extraction.CharsPerToken),
		quality.New(cfg.Quality),
		extractor,
		logger,
	)
	p.ForceModel = forceModel

	failed := 0
	for _, path := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := loader.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed  %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(os.Stdout, "extracting %s\n", doc.ID)

		out, err := p.Process(ctx, doc, meta)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed  %s: %v\n", doc.ID, err)
			failed++
			continue
		}
		written, err := records.Save(cfg.Extraction.RecordsDir, out.Record)
		if err != nil {
			return err
		}
		printOutcome(out, written)
	}

	if failed > 0 {
		return fmt.Errorf("%d document(s) failed extraction", failed)
	}
	return nil
}

func printProgress(ev extract.ProgressEvent) {
	switch ev.Status {
	case extract.StatusInProgress:
		if ev.Attempt > 1 {
			fmt.Fprintf(os.Stderr, "  %-30s retry %d\n", ev.Field, ev.Attempt)
		} else {
			fmt.Fprintf(os.Stderr, "  %-30s extracting\n", ev.Field)
		}
	case extract.StatusDone:
		fmt.Fprintf(os.Stderr, "  %-30s done\n", ev.Field)
	case extract.StatusFailed:
		fmt.Fprintf(os.Stderr, "  %-30s failed: %v\n", ev.Field, ev.Err)
	}
}

func printOutcome(out *pipeline.Outcome, path string) {
	method := "structural parse"
	if out.Escalated {
		method = "model extraction"
	}
	fmt.Fprintf(os.Stdout, "  %s: confidence %.2f, completeness %.2f (%s)\n",
		out.Record.DocumentID, out.Final.Confidence, out.Final.Completeness, method)
	if len(out.Final.Missing) > 0 {
		missing := make([]string, len(out.Final.Missing))
		for i, f := range out.Final.Missing {
			missing[i] = string(f)
		}
		fmt.Fprintf(os.Stdout, "  missing: %s\n", strings.Join(missing, ", "))
	}
	fmt.Fprintf(os.Stdout, "  wrote %s\n", path)
}

func printAnalysis(docID string, a selector.Analysis) {
	fmt.Fprintf(os.Stdout, "%s: %d units, ~%d tokens\n", docID, a.TotalUnits, a.TotalTokens)
	fmt.Fprintf(os.Stdout, "%-30s  %7s  %8s  %8s  %8s  %6s  %s\n",
		"Field", "Matched", "Selected", "Tokens", "Budget", "Util", "Top scores")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 96))
	for _, f := range a.Fields {
		util := fmt.Sprintf("%.0f%%", f.Utilization*100)
		if f.Overflow {
			util += "!"
		}
		fmt.Fprintf(os.Stdout, "%-30s  %7d  %8d  %8d  %8d  %6s  %v\n",
			f.Field, f.UnitsMatched, f.UnitsSelected, f.TokensUsed, f.Budget, util, f.TopScores)
	}
	fmt.Fprintln(os.Stdout)
}

func init() {
	extractCmd.Flags().String("backend", "", "completion backend: claude or ollama")
	extractCmd.Flags().String("model", "", "AI model identifier for extraction")
	extractCmd.Flags().Bool("force-model", false, "run model extraction even when the structural parse is adequate")
	extractCmd.Flags().Bool("analyze", false, "print chunk selection statistics and exit")
	extractCmd.Flags().String("records-dir", "", "directory for extraction records (default records)")
	extractCmd.Flags().Duration("delay", 0, "minimum delay between field calls (default 2s)")
	extractCmd.Flags().Int("tpm", 0, "input tokens-per-minute limit (0 disables)")
	extractCmd.Flags().StringArray("meta", nil, "study metadata key=value (repeatable)")

	rootCmd.AddCommand(extractCmd)
}

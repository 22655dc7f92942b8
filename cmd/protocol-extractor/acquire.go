// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/acquire"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire [nct-ids...]",
	Short: "Download ClinicalTrials.gov studies as extraction records",
	Long: `Acquire fetches studies from the ClinicalTrials.gov v2 API and writes each
one to the records directory as a nine-field record with nct_id, phase,
condition, and sponsor metadata.

Pass NCT identifiers to fetch specific studies, or search with --condition
and --intervention. Records that already exist are skipped unless --force is
given. Studies whose record fills less than --min-completeness of the fields
are not written.`,
	Example: `  protocol-extractor acquire NCT01234567 NCT07654321
  protocol-extractor acquire --condition melanoma --intervention pembrolizumab --max 50`,
	RunE: runAcquire,
}

func runAcquire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("records-dir") {
		cfg.Extraction.RecordsDir, _ = flags.GetString("records-dir")
	}
	if flags.Changed("min-completeness") {
		cfg.Acquisition.MinCompleteness, _ = flags.GetFloat64("min-completeness")
	}
	if flags.Changed("max") {
		cfg.Acquisition.MaxStudies, _ = flags.GetInt("max")
	}
	if flags.Changed("status") {
		cfg.Acquisition.Statuses, _ = flags.GetStringSlice("status")
	}
	if flags.Changed("study-type") {
		cfg.Acquisition.StudyTypes, _ = flags.GetStringSlice("study-type")
	}

	conditions, _ := flags.GetStringSlice("condition")
	interventions, _ := flags.GetStringSlice("intervention")
	if len(args) == 0 && len(conditions) == 0 && len(interventions) == 0 {
		return fmt.Errorf("give NCT identifiers or at least one --condition or --intervention")
	}
	if len(args) > 0 && (len(conditions) > 0 || len(interventions) > 0) {
		return fmt.Errorf("NCT identifiers and search flags cannot be combined")
	}

	a := acquire.NewAcquirer(cfg, logger)
	a.Force, _ = flags.GetBool("force")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var result acquire.BatchResult
	if len(args) > 0 {
		result, err = a.AcquireIDs(ctx, args, os.Stdout)
	} else {
		result, err = a.AcquireSearch(ctx, acquire.SearchQuery{
			Conditions:    conditions,
			Interventions: interventions,
			Statuses:      cfg.Acquisition.Statuses,
			StudyTypes:    cfg.Acquisition.StudyTypes,
			PageSize:      cfg.Acquisition.PageSize,
			MaxStudies:    cfg.Acquisition.MaxStudies,
		}, os.Stdout)
	}
	if err != nil {
		return err
	}
	if result.HasFailures() {
		return fmt.Errorf("%d of %d studies failed", result.Failed, result.Total())
	}
	return nil
}

func init() {
	f := acquireCmd.Flags()
	f.StringSlice("condition", nil, "condition to search for (repeatable)")
	f.StringSlice("intervention", nil, "intervention to search for (repeatable)")
	f.StringSlice("status", nil, "overall status filter (default RECRUITING,ACTIVE_NOT_RECRUITING,COMPLETED)")
	f.StringSlice("study-type", nil, "study type filter (default INTERVENTIONAL)")
	f.Int("max", 100, "maximum number of studies taken from a search")
	f.Float64("min-completeness", 0, "skip studies whose record fills less than this share of fields")
	f.String("records-dir", "", "output directory (default from config)")
	f.Bool("force", false, "overwrite records that already exist")

	rootCmd.AddCommand(acquireCmd)
}

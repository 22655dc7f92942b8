// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/internal/export"
	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
)

var exportCmd = &cobra.Command{
	Use:   "export [records...]",
	Short: "Export extraction records to an XLSX workbook",
	Long: `Export writes the given records (or every record in the records directory)
to a workbook with one row per study and a per-field sheet listing method,
pages, confidence, and errors.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths := args
	if len(paths) == 0 {
		dir, _ := cmd.Flags().GetString("records-dir")
		if dir == "" {
			dir = cfg.Extraction.RecordsDir
		}
		if paths, err = records.List(dir); err != nil {
			return err
		}
	}
	recs, err := records.LoadAll(paths)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no records to export")
	}

	out, _ := cmd.Flags().GetString("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	if err := export.WriteXLSX(f, recs, quality.New(cfg.Quality)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Exported %d record(s) to %s\n", len(recs), out)
	return nil
}

func init() {
	exportCmd.Flags().String("out", "records.xlsx", "output workbook path")
	exportCmd.Flags().String("records-dir", "", "directory of records to export when no arguments are given")

	rootCmd.AddCommand(exportCmd)
}

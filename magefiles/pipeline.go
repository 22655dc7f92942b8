//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// protocolGlobs are the inputs picked up by Extract.
var protocolGlobs = []string{"protocols/*.pdf", "protocols/*.txt"}

// Extract builds the CLI and extracts every protocol under protocols/.
func Extract() error {
	mg.Deps(Build)

	var files []string
	for _, g := range protocolGlobs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		fmt.Println("[extract] No protocols found in protocols/.")
		return nil
	}
	args := append([]string{"extract"}, files...)
	return sh.RunV(filepath.Join(binDir, binName), args...)
}

// Index builds the CLI and ingests all records into the vector index.
func Index() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "index")
}

// Acquire builds the CLI and downloads registry studies for the conditions
// listed in $ACQUIRE_CONDITIONS (comma separated).
func Acquire() error {
	mg.Deps(Build)
	conditions := os.Getenv("ACQUIRE_CONDITIONS")
	if conditions == "" {
		return fmt.Errorf("set ACQUIRE_CONDITIONS, for example ACQUIRE_CONDITIONS=melanoma,asthma")
	}
	return sh.RunV(filepath.Join(binDir, binName), "acquire", "--condition", conditions)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package records persists extraction records as one YAML file per document.
package records

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

const ext = ".yaml"

// Path returns the file path of the record for documentID in dir.
func Path(dir, documentID string) string {
	return filepath.Join(dir, documentID+ext)
}

// Save writes rec to dir/[document_id].yaml, creating dir if needed, and
// returns the path written.
func Save(dir string, rec *types.ExtractionRecord) (string, error) {
	if rec == nil || rec.DocumentID == "" {
		return "", fmt.Errorf("saving record: missing document id")
	}
	if strings.ContainsAny(rec.DocumentID, `/\`) || rec.DocumentID == "." || rec.DocumentID == ".." {
		return "", fmt.Errorf("saving record: invalid document id %q", rec.DocumentID)
	}
	if !rec.Complete() {
		return "", fmt.Errorf("saving record %s: expected all %d fields, have %d", rec.DocumentID, types.FieldCount, len(rec.Fields))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating records directory: %w", err)
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}
	path := Path(dir, rec.DocumentID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}
	return path, nil
}

// Load reads a record file. Fields absent from the file are restored as
// empty results; unknown field ids are an error.
func Load(path string) (*types.ExtractionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var stored types.ExtractionRecord
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", path, err)
	}
	if stored.DocumentID == "" {
		return nil, fmt.Errorf("parsing record %s: missing document_id", path)
	}

	rec := types.NewExtractionRecord(stored.DocumentID)
	for k, v := range stored.Metadata {
		rec.Metadata[k] = v
	}
	for id, res := range stored.Fields {
		res.Field = id
		if err := rec.Set(res); err != nil {
			return nil, fmt.Errorf("parsing record %s: %w", path, err)
		}
	}
	return rec, nil
}

// List returns the record files in dir in lexical order. A missing
// directory yields no files.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading records directory %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// LoadAll loads every path, stopping at the first error.
func LoadAll(paths []string) ([]*types.ExtractionRecord, error) {
	recs := make([]*types.ExtractionRecord, 0, len(paths))
	for _, p := range paths {
		rec, err := Load(p)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
